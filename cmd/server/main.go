// Package main 是聊天服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"mogu-chat/internal/config"
	"mogu-chat/internal/handler"
	"mogu-chat/internal/repository"
	"mogu-chat/internal/service"
	"mogu-chat/pkg/database"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 解析推理 API 凭证，找不到时服务照常启动，问答链标记为未初始化
	credential, from, err := config.ResolveCredential(cfg.Credential)
	if err != nil {
		log.Error("读取推理 API 凭证失败", err)
	} else if credential != "" {
		log.Infof("推理 API 凭证来源: %s", from)
	}

	// 4. 初始化会话存储
	var redisClient *redis.Client
	if cfg.Session.Store == "redis" {
		redisClient, err = database.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		defer redisClient.Close()
	}
	conversationRepo, err := repository.NewConversationRepository(cfg.Session.Store, redisClient, cfg.Session.TTL)
	if err != nil {
		log.Fatal("会话存储初始化失败", err)
	}

	// 5. 初始化 Service (依赖注入)
	chains := service.NewChainCache(service.NewChainBuilder(cfg).Build)
	chatService := service.NewChatService(chains, credential, conversationRepo, cfg.Chat)
	jwtManager := token.NewJWTManager(cfg.Session.TokenSecret, cfg.Session.TTL)

	// 启动时就构建一次问答链，失败原因只记录一次
	if ready, err := chatService.Ready(); !ready {
		var initErr *service.ChainInitError
		if errors.As(err, &initErr) {
			log.Warnf("问答链初始化失败 (%s)，服务将以未初始化状态运行: %v", initErr.Kind, initErr.Err)
		} else {
			log.Warnf("问答链初始化失败，服务将以未初始化状态运行: %v", err)
		}
	} else {
		log.Info("问答链初始化成功")
	}

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r, err := handler.NewRouter(chatService, jwtManager, cfg.Chat.Title)
	if err != nil {
		log.Fatal("路由初始化失败", err)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
