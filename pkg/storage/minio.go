// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mogu-chat/internal/config"
	"mogu-chat/pkg/log"
)

// Scheme 是对象存储语料来源的前缀，形如 minio://bucket/path/to/object。
const Scheme = "minio://"

// Store 封装 MinIO 客户端，只用于读取语料对象。
type Store struct {
	client *minio.Client
}

// NewStore 初始化 MinIO 客户端。
func NewStore(cfg config.MinIOConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint 未配置")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")
	return &Store{client: client}, nil
}

// IsObjectSource 判断语料来源是否指向对象存储。
func IsObjectSource(source string) bool {
	return strings.HasPrefix(source, Scheme)
}

// ParseSource 把 minio://bucket/object 拆分为桶名和对象名。
func ParseSource(source string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(source, Scheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("无效的对象存储来源 %q, 应为 %sbucket/object", source, Scheme)
	}
	return bucket, object, nil
}

// Fetch 下载整个对象到内存。
func (s *Store) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	log.Infof("[Storage] 从MinIO下载文件, Bucket: %s, Object: %s", bucket, object)
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	log.Infof("[Storage] 文件下载成功, 大小为: %d字节", len(data))
	return data, nil
}
