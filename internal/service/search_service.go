package service

import (
	"context"
	"fmt"

	"mogu-chat/internal/model"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/embedding"
	"mogu-chat/pkg/log"
)

// SearchService 接口定义了检索操作。实现只读，可被多个会话并发调用。
type SearchService interface {
	Retrieve(ctx context.Context, query string, topK int) ([]model.SearchResult, error)
}

type searchService struct {
	embeddingClient embedding.Client
	index           repository.IndexRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, index repository.IndexRepository) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		index:           index,
	}
}

// Retrieve 向量化查询并返回相似度最高的 topK 个分块，按分数降序排列。
func (s *searchService) Retrieve(ctx context.Context, query string, topK int) ([]model.SearchResult, error) {
	log.Infof("[SearchService] 开始检索, query: '%s', topK: %d", query, topK)

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	results, err := s.index.Search(ctx, queryVector, topK)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败: %v", err)
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	for i, r := range results {
		log.Debugf("[SearchService] 命中 #%d, chunk: %s, score: %.4f", i+1, r.Chunk.ID, r.Score)
	}
	log.Infof("[SearchService] 检索完成, 共返回 %d 条结果", len(results))
	return results, nil
}
