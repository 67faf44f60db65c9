package service

import (
	"context"
	"sync"

	"mogu-chat/internal/model"
	"mogu-chat/pkg/llm"
)

type llmCall struct {
	prompt string
	gen    *llm.GenerationParams
	stream bool
}

// fakeLLM 记录每次调用的参数，并按 fragments 回放流式输出。
// block 为真时一直等到 ctx 结束，模拟无响应的推理端点。
type fakeLLM struct {
	mu        sync.Mutex
	calls     []llmCall
	fragments []string
	err       error
	block     bool
}

func (f *fakeLLM) Model() string { return "fake-llm" }

func (f *fakeLLM) record(prompt string, gen *llm.GenerationParams, stream bool) {
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{prompt: prompt, gen: gen, stream: stream})
	f.mu.Unlock()
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, gen *llm.GenerationParams) (string, error) {
	f.record(prompt, gen, false)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	var out string
	for _, fr := range f.fragments {
		out += fr
	}
	return out, nil
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, gen *llm.GenerationParams, w llm.FragmentWriter) error {
	f.record(prompt, gen, true)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, fr := range f.fragments {
		if err := w.WriteFragment(fr); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeRetriever 对任何问题返回固定的检索结果。
type fakeRetriever struct {
	results []model.SearchResult
	queries []string
	topKs   []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int) ([]model.SearchResult, error) {
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	return f.results, nil
}

type fakeEmbedder struct {
	vector []float32
	texts  []string
}

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return f.vector, nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.CreateEmbedding(ctx, t)
	}
	return out, nil
}

type fakeIndex struct {
	results []model.SearchResult
	vector  []float32
	k       int
}

func (f *fakeIndex) Search(_ context.Context, vector []float32, k int) ([]model.SearchResult, error) {
	f.vector, f.k = vector, k
	return f.results, nil
}

func (f *fakeIndex) Manifest() model.IndexManifest { return model.IndexManifest{EmbeddingModel: "fake-embedder"} }

func (f *fakeIndex) Count() int { return len(f.results) }

func results(texts ...string) []model.SearchResult {
	out := make([]model.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = model.SearchResult{Chunk: model.Chunk{ID: model.ChunkID(i), Index: i, Text: t}, Score: 1 - float32(i)*0.1}
	}
	return out
}
