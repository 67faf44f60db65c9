// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"mogu-chat/internal/config"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/retry"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the model identifier every vector is produced with.
	Model() string
}

type client struct {
	cfg        config.EmbeddingConfig
	credential string
	http       *http.Client
	policy     retry.Policy
}

// NewClient creates a new embedding client for the configured provider.
// The bearer token is cfg.APIKey when set, otherwise the shared credential.
func NewClient(cfg config.EmbeddingConfig, credential string) (Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is not configured")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid embedding base_url %q: %w", cfg.BaseURL, err)
	}
	switch cfg.Provider {
	case "hf", "openai":
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.APIKey != "" {
		credential = cfg.APIKey
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &client{
		cfg:        cfg,
		credential: credential,
		http:       &http.Client{Timeout: cfg.Timeout},
		policy:     retry.DefaultPolicy(cfg.MaxRetries),
	}, nil
}

func (c *client) Model() string { return c.cfg.Model }

// CreateEmbedding returns the vector for a single text.
func (c *client) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings embeds texts in batches of cfg.BatchSize, preserving order.
func (c *client) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no input texts to embed")
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		log.Debugf("[EmbeddingClient] 调用 Embedding API, model: %s, batch: %d-%d", c.cfg.Model, start, end)

		var (
			vectors [][]float32
			err     error
		)
		if c.cfg.Provider == "openai" {
			vectors, err = c.embedOpenAI(ctx, texts[start:end])
		} else {
			vectors, err = c.embedHF(ctx, texts[start:end])
		}
		if err != nil {
			log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(vectors), end-start)
		}
		for _, v := range vectors {
			if len(v) == 0 {
				return nil, errors.New("received empty embedding from api")
			}
			if c.cfg.Normalize {
				Normalize(v)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

type hfRequest struct {
	Inputs  []string         `json:"inputs"`
	Options hfRequestOptions `json:"options"`
}

type hfRequestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// embedHF calls the Hugging Face feature-extraction pipeline, which answers
// with one pooled vector per input for sentence-transformers models.
func (c *client) embedHF(ctx context.Context, texts []string) ([][]float32, error) {
	reqBytes, err := json.Marshal(hfRequest{Inputs: texts, Options: hfRequestOptions{WaitForModel: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.Model + "/pipeline/feature-extraction"

	resp, err := retry.Do(ctx, c.http, c.policy, c.newRequest(endpoint, reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return vectors, nil
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedOpenAI calls an OpenAI-compatible /embeddings endpoint.
func (c *client) embedOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBytes, err := json.Marshal(openAIRequest{Model: c.cfg.Model, Input: texts, Dimensions: c.cfg.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"

	resp, err := retry.Do(ctx, c.http, c.policy, c.newRequest(endpoint, reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	vectors := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if vectors[d.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *client) newRequest(endpoint string, body []byte) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.credential != "" {
			req.Header.Set("Authorization", "Bearer "+c.credential)
		}
		return req, nil
	}
}

// Normalize scales v to unit L2 length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
