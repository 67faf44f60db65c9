package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// hfClient 调用 Hugging Face text-generation 推理接口。
type hfClient struct {
	baseClient
}

type hfParameters struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	MaxNewTokens   *int     `json:"max_new_tokens,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Stream     bool         `json:"stream"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
}

type hfStreamEvent struct {
	Token *struct {
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	Error string `json:"error"`
}

func (c *hfClient) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.Model
}

func (c *hfClient) request(prompt string, gen *GenerationParams, stream bool) ([]byte, error) {
	req := hfRequest{Inputs: prompt, Stream: stream}
	if gen != nil {
		req.Parameters.Temperature = gen.Temperature
		req.Parameters.TopP = gen.TopP
		req.Parameters.MaxNewTokens = gen.MaxNewTokens
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}
	return b, nil
}

// Generate 以非流式方式调用 text-generation。
func (c *hfClient) Generate(ctx context.Context, prompt string, gen *GenerationParams) (string, error) {
	body, err := c.request(prompt, gen, false)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, c.endpoint(), body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generation response: %w", err)
	}
	// 接口可能返回数组或单个对象
	var list []hfGenerated
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", errors.New("generation api returned no candidates")
		}
		return list[0].GeneratedText, nil
	}
	var single hfGenerated
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	return single.GeneratedText, nil
}

// Stream 以 SSE 方式调用 text-generation，每个 token 作为一个片段写出。
func (c *hfClient) Stream(ctx context.Context, prompt string, gen *GenerationParams, w FragmentWriter) error {
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
		var ev hfStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return false, nil
		}
		if ev.Error != "" {
			return true, fmt.Errorf("generation stream error: %s", ev.Error)
		}
		if ev.Token == nil || ev.Token.Special || ev.Token.Text == "" {
			return false, nil
		}
		if err := w.WriteFragment(ev.Token.Text); err != nil {
			return true, fmt.Errorf("failed to write fragment: %w", err)
		}
		return false, nil
	})
}
