package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// openAIClient 调用 OpenAI 兼容的 /chat/completions 接口，提示词作为单条 user 消息发送。
type openAIClient struct {
	baseClient
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) request(prompt string, gen *GenerationParams, stream bool) ([]byte, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxNewTokens
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	return b, nil
}

func (c *openAIClient) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

// Generate calls the chat completions API without streaming.
func (c *openAIClient) Generate(ctx context.Context, prompt string, gen *GenerationParams) (string, error) {
	body, err := c.request(prompt, gen, false)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, c.endpoint(), body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream calls the chat completions API and streams the deltas.
func (c *openAIClient) Stream(ctx context.Context, prompt string, gen *GenerationParams, w FragmentWriter) error {
	body, err := c.request(prompt, gen, true)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, c.endpoint(), body, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readEvents(resp.Body, func(data string) (bool, error) {
		var chunk chatStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return false, nil
		}
		if err := w.WriteFragment(chunk.Choices[0].Delta.Content); err != nil {
			return true, fmt.Errorf("failed to write fragment: %w", err)
		}
		return false, nil
	})
}
