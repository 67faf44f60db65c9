// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"mogu-chat/internal/model"
)

// ConversationRepository 定义了会话历史记录的操作接口。
// 历史只追加，不修改，会话空闲超过 TTL 后丢弃。
type ConversationRepository interface {
	Append(ctx context.Context, sessionID string, msg model.ChatMessage) error
	History(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

// NewConversationRepository 按 store 名称创建仓库：memory 或 redis。
func NewConversationRepository(store string, redisClient *redis.Client, ttl time.Duration) (ConversationRepository, error) {
	switch store {
	case "memory", "":
		return NewMemoryConversationRepository(ttl), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("session.store 为 redis 但 Redis 客户端未初始化")
		}
		return NewRedisConversationRepository(redisClient, ttl), nil
	default:
		return nil, fmt.Errorf("未知的 session.store: %q", store)
	}
}

type redisConversationRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisConversationRepository 创建基于 Redis 列表的仓库，多个服务实例可共享会话。
func NewRedisConversationRepository(redisClient *redis.Client, ttl time.Duration) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient, ttl: ttl}
}

func conversationKey(sessionID string) string {
	return fmt.Sprintf("mogu:conversation:%s", sessionID)
}

// Append 追加一条消息并刷新过期时间。
func (r *redisConversationRepository) Append(ctx context.Context, sessionID string, msg model.ChatMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}
	key := conversationKey(sessionID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, jsonData)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append conversation history: %w", err)
	}
	return nil
}

// History 从 Redis 获取完整的会话历史。
func (r *redisConversationRepository) History(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	items, err := r.redisClient.LRange(ctx, conversationKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	messages := make([]model.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *redisConversationRepository) Clear(ctx context.Context, sessionID string) error {
	if err := r.redisClient.Del(ctx, conversationKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}

type memoryConversation struct {
	messages []model.ChatMessage
	touched  time.Time
}

type memoryConversationRepository struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	convs map[string]*memoryConversation
}

// NewMemoryConversationRepository 创建进程内仓库。ttl <= 0 时永不过期。
func NewMemoryConversationRepository(ttl time.Duration) ConversationRepository {
	return newMemoryConversationRepository(ttl, time.Now)
}

func newMemoryConversationRepository(ttl time.Duration, now func() time.Time) *memoryConversationRepository {
	return &memoryConversationRepository{ttl: ttl, now: now, convs: make(map[string]*memoryConversation)}
}

func (r *memoryConversationRepository) Append(_ context.Context, sessionID string, msg model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	conv, ok := r.convs[sessionID]
	if !ok {
		conv = &memoryConversation{}
		r.convs[sessionID] = conv
	}
	conv.messages = append(conv.messages, msg)
	conv.touched = r.now()
	return nil
}

func (r *memoryConversationRepository) History(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	conv, ok := r.convs[sessionID]
	if !ok {
		return []model.ChatMessage{}, nil
	}
	out := make([]model.ChatMessage, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}

func (r *memoryConversationRepository) Clear(_ context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.convs, sessionID)
	r.mu.Unlock()
	return nil
}

// sweepLocked 删除空闲超过 TTL 的会话，调用方需持有锁。
func (r *memoryConversationRepository) sweepLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for id, conv := range r.convs {
		if conv.touched.Before(cutoff) {
			delete(r.convs, id)
		}
	}
}
