// Package database 负责创建外部存储的客户端连接。
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"mogu-chat/internal/config"
	"mogu-chat/pkg/log"
)

// NewRedis 创建 Redis 客户端并测试连接，仅在 session.store 为 redis 时使用。
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	log.Infof("Redis client connected successfully, addr: %s", cfg.Addr)
	return client, nil
}
