package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogu-chat/internal/model"
)

func TestMemoryConversationRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemoryConversationRepository(time.Hour, func() time.Time { return now })

	history, err := repo.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, repo.Append(ctx, "s1", model.ChatMessage{Role: model.RoleUser, Content: "질문"}))
	require.NoError(t, repo.Append(ctx, "s1", model.ChatMessage{Role: model.RoleAssistant, Content: "답변"}))
	require.NoError(t, repo.Append(ctx, "s2", model.ChatMessage{Role: model.RoleUser, Content: "다른 세션"}))

	history, err = repo.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "질문", history[0].Content)
	assert.Equal(t, "답변", history[1].Content)

	// 返回的是副本
	history[0].Content = "changed"
	again, _ := repo.History(ctx, "s1")
	assert.Equal(t, "질문", again[0].Content)

	t.Run("idle sessions expire", func(t *testing.T) {
		now = now.Add(2 * time.Hour)
		require.NoError(t, repo.Append(ctx, "s3", model.ChatMessage{Role: model.RoleUser, Content: "new"}))
		h1, _ := repo.History(ctx, "s1")
		h3, _ := repo.History(ctx, "s3")
		assert.Empty(t, h1)
		assert.Len(t, h3, 1)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, repo.Clear(ctx, "s3"))
		h3, _ := repo.History(ctx, "s3")
		assert.Empty(t, h3)
	})
}

func TestNewConversationRepository(t *testing.T) {
	repo, err := NewConversationRepository("memory", nil, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, repo)

	_, err = NewConversationRepository("redis", nil, time.Minute)
	assert.Error(t, err)

	_, err = NewConversationRepository("sqlite", nil, time.Minute)
	assert.Error(t, err)
}

func TestRedisConversationRepository(t *testing.T) {
	addr := os.Getenv("MOGU_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MOGU_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	repo := NewRedisConversationRepository(client, time.Minute)
	sid := uuid.NewString()
	defer repo.Clear(ctx, sid)

	require.NoError(t, repo.Append(ctx, sid, model.ChatMessage{Role: model.RoleUser, Content: "질문"}))
	require.NoError(t, repo.Append(ctx, sid, model.ChatMessage{Role: model.RoleAssistant, Content: "답변"}))

	history, err := repo.History(ctx, sid)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)

	ttl, err := client.TTL(ctx, conversationKey(sid)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
