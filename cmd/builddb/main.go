// Package main 是离线构建向量索引的命令行入口。
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"mogu-chat/internal/config"
	"mogu-chat/internal/pipeline"
	"mogu-chat/pkg/embedding"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/storage"
	"mogu-chat/pkg/tika"
)

const tikaTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	source := flag.String("source", "", "Corpus file or minio://bucket/object, overrides ingest.source")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf
	if *source != "" {
		cfg.Ingest.Source = *source
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 解析推理 API 凭证
	credential, from, err := config.ResolveCredential(cfg.Credential)
	if err != nil {
		log.Fatal("读取推理 API 凭证失败", err)
	}
	if credential == "" && cfg.Embedding.APIKey == "" {
		log.Warnf("未找到推理 API 凭证 (%s)，Embedding 请求可能被拒绝", cfg.Credential.EnvKey)
	} else {
		log.Infof("推理 API 凭证来源: %s", from)
	}

	// 4. 初始化客户端
	embeddingClient, err := embedding.NewClient(cfg.Embedding, credential)
	if err != nil {
		log.Fatal("初始化 Embedding 客户端失败", err)
	}
	var tikaClient *tika.Client
	if cfg.Ingest.TikaURL != "" {
		tikaClient = tika.NewClient(cfg.Ingest.TikaURL, tikaTimeout)
	}
	var objects pipeline.ObjectFetcher
	if storage.IsObjectSource(cfg.Ingest.Source) {
		store, err := storage.NewStore(cfg.MinIO)
		if err != nil {
			log.Fatal("初始化 MinIO 客户端失败", err)
		}
		objects = store
	}

	// 5. 构建索引
	processor := pipeline.NewProcessor(
		pipeline.NewLoader(tikaClient, objects),
		embeddingClient,
		cfg.Ingest,
		cfg.Index,
		cfg.Embedding,
	)
	manifest, err := processor.Build(ctx)
	if err != nil {
		log.Fatal("构建索引失败", err)
	}
	log.Infof("索引构建完成: %s, chunks: %d, dimension: %d, model: %s",
		cfg.Index.Dir, manifest.ChunkCount, manifest.Dimension, manifest.EmbeddingModel)
}
