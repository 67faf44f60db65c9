package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogu-chat/internal/config"
)

func TestHFClient(t *testing.T) {
	var gotAuth, gotPath string
	var batches [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var req hfRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, req.Inputs)
		out := make([][]float32, len(req.Inputs))
		for i := range req.Inputs {
			out[i] = []float32{3, 4}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c, err := NewClient(config.EmbeddingConfig{
		Provider:  "hf",
		BaseURL:   srv.URL,
		Model:     "sentence-transformers/all-MiniLM-L6-v2",
		Normalize: true,
		BatchSize: 2,
	}, "hf_secret")
	require.NoError(t, err)

	vectors, err := c.CreateEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer hf_secret", gotAuth)
	assert.Equal(t, "/sentence-transformers/all-MiniLM-L6-v2/pipeline/feature-extraction", gotPath)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, batches)
	require.Len(t, vectors, 3)
	assert.InDelta(t, 0.6, vectors[0][0], 1e-6)
	assert.InDelta(t, 0.8, vectors[0][1], 1e-6)
}

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		// 故意打乱顺序，客户端应按 index 还原
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, Model: "text-embedding-3-small"}, "k")
	require.NoError(t, err)

	vectors, err := c.CreateEmbeddings(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, "text-embedding-3-small", c.Model())
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.EmbeddingConfig{Provider: "hf", BaseURL: "http://x"}, "")
	assert.Error(t, err)
	_, err = NewClient(config.EmbeddingConfig{Provider: "bogus", BaseURL: "http://x", Model: "m"}, "")
	assert.Error(t, err)
	_, err = NewClient(config.EmbeddingConfig{Provider: "hf", BaseURL: "::not a url", Model: "m"}, "")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v := []float32{1, 2, 2}
	Normalize(v)
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
