// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mogu-chat/internal/config"
	"mogu-chat/pkg/retry"
)

// FragmentWriter receives streamed text fragments in arrival order.
type FragmentWriter interface {
	WriteFragment(fragment string) error
}

// FragmentWriterFunc adapts a plain function to FragmentWriter.
type FragmentWriterFunc func(fragment string) error

// WriteFragment calls f(fragment).
func (f FragmentWriterFunc) WriteFragment(fragment string) error { return f(fragment) }

// GenerationParams 控制生成行为，nil 字段不下发。
type GenerationParams struct {
	Temperature  *float64
	TopP         *float64
	MaxNewTokens *int
}

// ParamsFromConfig 复制配置中已设置的解码参数，未设置的保持 nil。
func ParamsFromConfig(cfg config.LLMGenerationConfig) *GenerationParams {
	return &GenerationParams{
		Temperature:  copyPtr(cfg.Temperature),
		TopP:         copyPtr(cfg.TopP),
		MaxNewTokens: copyPtr(cfg.MaxNewTokens),
	}
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 一次性返回完整的生成文本。
	Generate(ctx context.Context, prompt string, gen *GenerationParams) (string, error)
	// Stream 以增量方式把生成的文本片段依次写入 w，无法识别的片段会被跳过。
	Stream(ctx context.Context, prompt string, gen *GenerationParams, w FragmentWriter) error
	Model() string
}

// NewClient creates a new LLM client based on the provider in the config.
// It fails when the endpoint cannot be constructed from the configuration.
func NewClient(cfg config.LLMConfig, credential string) (Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model is not configured")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid llm base_url %q: %w", cfg.BaseURL, err)
	}
	if cfg.APIKey != "" {
		credential = cfg.APIKey
	}
	// Timeout 只约束等待响应头的时间；流式响应体的读取由调用方的 ctx（本轮超时）约束。
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = cfg.Timeout
	base := baseClient{
		cfg:        cfg,
		credential: credential,
		http:       &http.Client{Transport: tr},
		policy:     retry.DefaultPolicy(cfg.MaxRetries),
	}
	switch cfg.Provider {
	case "hf", "":
		return &hfClient{baseClient: base}, nil
	case "openai":
		return &openAIClient{baseClient: base}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type baseClient struct {
	cfg        config.LLMConfig
	credential string
	http       *http.Client
	policy     retry.Policy
}

func (c *baseClient) Model() string { return c.cfg.Model }

func (c *baseClient) post(ctx context.Context, endpoint string, body []byte, stream bool) (*http.Response, error) {
	resp, err := retry.Do(ctx, c.http, c.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create generation request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.credential != "" {
			req.Header.Set("Authorization", "Bearer "+c.credential)
		}
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call generation api: %w", err)
	}
	return resp, nil
}

// readEvents 逐行读取 SSE 流，把每个 data 负载交给 onData。
// onData 返回 done=true 时提前结束。
func readEvents(body io.Reader, onData func(data string) (done bool, err error)) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(line, "data:") {
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return nil
				}
				if data != "" {
					done, cbErr := onData(data)
					if cbErr != nil {
						return cbErr
					}
					if done {
						return nil
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}
	}
}
