package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/prompts"

	"mogu-chat/internal/config"
	"mogu-chat/internal/model"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/embedding"
	"mogu-chat/pkg/llm"
	"mogu-chat/pkg/log"
)

// ChainInitKind 标识问答链初始化失败的原因。
type ChainInitKind string

const (
	ChainInitCredentialMissing ChainInitKind = "credential_missing"
	ChainInitIndexLoad         ChainInitKind = "index_load"
	ChainInitEndpoint          ChainInitKind = "endpoint"
	ChainInitPrompt            ChainInitKind = "prompt"
)

// ChainInitError 是问答链初始化失败时返回的类型化错误，只报告一次，不重试。
type ChainInitError struct {
	Kind ChainInitKind
	Err  error
}

func (e *ChainInitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("answer chain init failed (%s)", e.Kind)
	}
	return fmt.Sprintf("answer chain init failed (%s): %v", e.Kind, e.Err)
}

func (e *ChainInitError) Unwrap() error { return e.Err }

// AnswerChain 把检索、提示词拼装与生成串成一次问答。构造成功即处于 ready 状态。
type AnswerChain struct {
	retriever SearchService
	llmClient llm.Client
	template  prompts.PromptTemplate
	separator string
	topK      int
	gen       *llm.GenerationParams
}

// NewAnswerChain 用已就绪的检索器和生成客户端组装问答链。
func NewAnswerChain(retriever SearchService, llmClient llm.Client, llmCfg config.LLMConfig, topK int) (*AnswerChain, error) {
	tmpl := llmCfg.Prompt.Template
	if tmpl == "" {
		tmpl = config.DefaultPromptTemplate
	}
	template := prompts.NewPromptTemplate(tmpl, []string{"context", "question"})
	if _, err := template.Format(map[string]any{"context": "", "question": ""}); err != nil {
		return nil, &ChainInitError{Kind: ChainInitPrompt, Err: err}
	}
	if topK <= 0 {
		topK = 4
	}
	return &AnswerChain{
		retriever: retriever,
		llmClient: llmClient,
		template:  template,
		separator: llmCfg.Prompt.ContextSeparator,
		topK:      topK,
		gen:       llm.ParamsFromConfig(llmCfg.Generation),
	}, nil
}

// BuildPrompt 用换行拼接的分块文本填充 {{.context}}，用原问题填充 {{.question}}。
func (c *AnswerChain) BuildPrompt(question string, results []model.SearchResult) (string, error) {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Chunk.Text
	}
	return c.template.Format(map[string]any{
		"context":  strings.Join(texts, c.separator),
		"question": question,
	})
}

func (c *AnswerChain) prepare(ctx context.Context, question string) (string, error) {
	results, err := c.retriever.Retrieve(ctx, question, c.topK)
	if err != nil {
		return "", err
	}
	prompt, err := c.BuildPrompt(question, results)
	if err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return prompt, nil
}

// Invoke 一次性生成完整答案。
func (c *AnswerChain) Invoke(ctx context.Context, question string) (string, error) {
	prompt, err := c.prepare(ctx, question)
	if err != nil {
		return "", err
	}
	return c.llmClient.Generate(ctx, prompt, c.gen)
}

// Stream 按到达顺序把片段写入 w，并返回拼接后的完整答案。只能消费一次。
func (c *AnswerChain) Stream(ctx context.Context, question string, w llm.FragmentWriter) (string, error) {
	prompt, err := c.prepare(ctx, question)
	if err != nil {
		return "", err
	}
	var answer strings.Builder
	err = c.llmClient.Stream(ctx, prompt, c.gen, llm.FragmentWriterFunc(func(fragment string) error {
		answer.WriteString(fragment)
		return w.WriteFragment(fragment)
	}))
	if err != nil {
		return answer.String(), err
	}
	return answer.String(), nil
}

// ChainBuilder 根据凭证构造问答链，各依赖的构造函数可替换。
type ChainBuilder struct {
	Index     config.IndexConfig
	Embedding config.EmbeddingConfig
	LLM       config.LLMConfig
	TopK      int

	OpenIndex   func(cfg config.IndexConfig, embeddingModel string) (repository.IndexRepository, error)
	NewEmbedder func(cfg config.EmbeddingConfig, credential string) (embedding.Client, error)
	NewLLM      func(cfg config.LLMConfig, credential string) (llm.Client, error)
}

// NewChainBuilder 使用真实的索引与远端客户端。
func NewChainBuilder(cfg config.Config) *ChainBuilder {
	return &ChainBuilder{
		Index:       cfg.Index,
		Embedding:   cfg.Embedding,
		LLM:         cfg.LLM,
		TopK:        cfg.Retrieval.TopK,
		OpenIndex:   repository.OpenIndex,
		NewEmbedder: embedding.NewClient,
		NewLLM:      llm.NewClient,
	}
}

// Build 依次检查凭证、加载索引、构造远端客户端，任一步失败都返回 *ChainInitError。
func (b *ChainBuilder) Build(credential string) (*AnswerChain, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, &ChainInitError{Kind: ChainInitCredentialMissing, Err: errors.New("no inference credential configured")}
	}
	index, err := b.OpenIndex(b.Index, b.Embedding.Model)
	if err != nil {
		return nil, &ChainInitError{Kind: ChainInitIndexLoad, Err: err}
	}
	embedder, err := b.NewEmbedder(b.Embedding, credential)
	if err != nil {
		return nil, &ChainInitError{Kind: ChainInitEndpoint, Err: err}
	}
	llmClient, err := b.NewLLM(b.LLM, credential)
	if err != nil {
		return nil, &ChainInitError{Kind: ChainInitEndpoint, Err: err}
	}
	return NewAnswerChain(NewSearchService(embedder, index), llmClient, b.LLM, b.TopK)
}

type chainEntry struct {
	chain *AnswerChain
	err   error
}

// ChainCache 按凭证惰性构造问答链，成功与失败结果都会被缓存。
type ChainCache struct {
	mu      sync.Mutex
	build   func(credential string) (*AnswerChain, error)
	entries map[string]chainEntry
}

// NewChainCache 创建缓存，build 对同一凭证最多调用一次。
func NewChainCache(build func(credential string) (*AnswerChain, error)) *ChainCache {
	return &ChainCache{build: build, entries: make(map[string]chainEntry)}
}

// Get 返回该凭证对应的问答链或初始化错误。
func (c *ChainCache) Get(credential string) (*AnswerChain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[credential]; ok {
		return e.chain, e.err
	}
	chain, err := c.build(credential)
	if err != nil {
		log.Errorf("[AnswerChain] 问答链初始化失败: %v", err)
	} else {
		log.Info("[AnswerChain] 问答链初始化成功")
	}
	c.entries[credential] = chainEntry{chain: chain, err: err}
	return chain, err
}
