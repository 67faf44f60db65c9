// Package pipeline 定义了语料入库的核心流程：读取、切块、向量化、写入索引。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mogu-chat/internal/config"
	"mogu-chat/internal/model"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/embedding"
	"mogu-chat/pkg/log"
)

// Processor 封装了构建索引的所有依赖和逻辑。
type Processor struct {
	loader          *Loader
	embeddingClient embedding.Client
	ingestCfg       config.IngestConfig
	indexCfg        config.IndexConfig
	embeddingCfg    config.EmbeddingConfig
	now             func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	loader *Loader,
	embeddingClient embedding.Client,
	ingestCfg config.IngestConfig,
	indexCfg config.IndexConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		loader:          loader,
		embeddingClient: embeddingClient,
		ingestCfg:       ingestCfg,
		indexCfg:        indexCfg,
		embeddingCfg:    embeddingCfg,
		now:             time.Now,
	}
}

// Build 读取语料、切块、向量化，并以整体替换的方式重建索引目录。
func (p *Processor) Build(ctx context.Context) (*model.IndexManifest, error) {
	source := p.ingestCfg.Source
	log.Infof("[Processor] 开始构建索引, source: %s, index: %s", source, p.indexCfg.Dir)

	// 1. 读取语料
	doc, err := p.loader.Load(ctx, source, p.ingestCfg.Encoding)
	if err != nil {
		log.Errorf("[Processor] 步骤1: 读取语料失败, Error: %v", err)
		return nil, err
	}

	// 2. 文本切块
	log.Infof("[Processor] 步骤2: 进行文本分块, splitter: %s, chunkSize: %d, chunkOverlap: %d",
		p.ingestCfg.Splitter, p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap)
	split, err := NewSplitter(p.ingestCfg.Splitter)
	if err != nil {
		return nil, err
	}
	chunks, err := split(doc.Text, p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, source: %s", source)
		return nil, fmt.Errorf("%w: 未生成任何文本分块", ErrIngest)
	}
	for i := range chunks {
		chunks[i].Source = doc.Path
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 3. 向量化
	log.Infof("[Processor] 步骤3: 开始向量化, model: %s", p.embeddingClient.Model())
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
	if err != nil {
		log.Errorf("[Processor] 步骤3: 向量化失败, Error: %v", err)
		return nil, fmt.Errorf("向量化失败: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, errors.New("向量数量与分块数量不一致")
	}

	// 4. 写入索引
	manifest := model.IndexManifest{
		EmbeddingModel: p.embeddingClient.Model(),
		Normalized:     p.embeddingCfg.Normalize,
		ChunkSize:      p.ingestCfg.ChunkSize,
		ChunkOverlap:   p.ingestCfg.ChunkOverlap,
		Splitter:       p.ingestCfg.Splitter,
		Source:         source,
		BuiltAt:        p.now().UTC(),
	}
	if err := repository.WriteIndex(ctx, p.indexCfg, manifest, chunks, vectors); err != nil {
		log.Errorf("[Processor] 步骤4: 写入索引失败, Error: %v", err)
		return nil, fmt.Errorf("写入索引失败: %w", err)
	}
	written, err := repository.ReadManifest(p.indexCfg.Dir)
	if err != nil {
		return nil, err
	}

	log.Infof("[Processor] 索引构建成功, chunks: %d, dimension: %d", written.ChunkCount, written.Dimension)
	return &written, nil
}
