package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieve(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{0.6, 0.8}}
	idx := &fakeIndex{results: results("a", "b")}
	svc := NewSearchService(emb, idx)

	got, err := svc.Retrieve(context.Background(), "수수료", 4)
	require.NoError(t, err)
	assert.Equal(t, idx.results, got)
	assert.Equal(t, []string{"수수료"}, emb.texts)
	assert.Equal(t, []float32{0.6, 0.8}, idx.vector)
	assert.Equal(t, 4, idx.k)
}
