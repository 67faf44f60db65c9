package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogu-chat/internal/config"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/embedding"
	"mogu-chat/pkg/llm"
)

func testLLMConfig(template string) config.LLMConfig {
	temperature, maxNewTokens := 0.1, 512
	return config.LLMConfig{
		Model: "fake-llm",
		Generation: config.LLMGenerationConfig{
			Temperature:  &temperature,
			MaxNewTokens: &maxNewTokens,
		},
		Prompt: config.LLMPromptConfig{Template: template, ContextSeparator: "\n\n"},
	}
}

func TestBuildPromptIsByteExact(t *testing.T) {
	chain, err := NewAnswerChain(&fakeRetriever{}, &fakeLLM{}, testLLMConfig("컨텍스트:\n{{.context}}\n질문: {{.question}}\n답변:"), 4)
	require.NoError(t, err)

	prompt, err := chain.BuildPrompt("수수료 <제한>은?", results("첫 번째 & 청크", "두 번째 청크"))
	require.NoError(t, err)
	assert.Equal(t, "컨텍스트:\n첫 번째 & 청크\n\n두 번째 청크\n질문: 수수료 <제한>은?\n답변:", prompt)

	t.Run("default template", func(t *testing.T) {
		chain, err := NewAnswerChain(&fakeRetriever{}, &fakeLLM{}, testLLMConfig(""), 4)
		require.NoError(t, err)
		prompt, err := chain.BuildPrompt("마감 기한은?", results("A", "B"))
		require.NoError(t, err)
		expected := strings.NewReplacer("{{.context}}", "A\n\nB", "{{.question}}", "마감 기한은?").Replace(config.DefaultPromptTemplate)
		assert.Equal(t, expected, prompt)
	})

	t.Run("no results", func(t *testing.T) {
		prompt, err := chain.BuildPrompt("q", nil)
		require.NoError(t, err)
		assert.Equal(t, "컨텍스트:\n\n질문: q\n답변:", prompt)
	})
}

func TestNewAnswerChainRejectsBrokenTemplate(t *testing.T) {
	_, err := NewAnswerChain(&fakeRetriever{}, &fakeLLM{}, testLLMConfig("{{.context"), 4)
	var initErr *ChainInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, ChainInitPrompt, initErr.Kind)
}

func TestAnswerChainInvokeAndStream(t *testing.T) {
	retriever := &fakeRetriever{results: results("수수료는 10%까지")}
	fake := &fakeLLM{fragments: []string{"안", "녕", "하세요"}}
	chain, err := NewAnswerChain(retriever, fake, testLLMConfig("{{.context}}|{{.question}}"), 3)
	require.NoError(t, err)

	var got []string
	answer, err := chain.Stream(context.Background(), "인사", llm.FragmentWriterFunc(func(f string) error {
		got = append(got, f)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", answer)
	assert.Equal(t, []string{"안", "녕", "하세요"}, got)

	answer, err = chain.Invoke(context.Background(), "인사")
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", answer)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "수수료는 10%까지|인사", fake.calls[0].prompt)
	assert.True(t, fake.calls[0].stream)
	assert.False(t, fake.calls[1].stream)
	require.NotNil(t, fake.calls[0].gen.Temperature)
	assert.InDelta(t, 0.1, *fake.calls[0].gen.Temperature, 1e-9)
	assert.Equal(t, 512, *fake.calls[0].gen.MaxNewTokens)
	assert.Equal(t, []int{3, 3}, retriever.topKs)
}

func TestAnswerChainStreamError(t *testing.T) {
	boom := errors.New("503 from endpoint")
	chain, err := NewAnswerChain(&fakeRetriever{}, &fakeLLM{fragments: []string{"부분"}, err: boom}, testLLMConfig(""), 4)
	require.NoError(t, err)

	_, err = chain.Stream(context.Background(), "q", llm.FragmentWriterFunc(func(string) error { return nil }))
	assert.ErrorIs(t, err, boom)
}

func testBuilder(fake *fakeLLM) (*ChainBuilder, *int) {
	opened := 0
	b := &ChainBuilder{
		Embedding: config.EmbeddingConfig{Model: "fake-embedder"},
		LLM:       testLLMConfig(""),
		TopK:      4,
		OpenIndex: func(config.IndexConfig, string) (repository.IndexRepository, error) {
			opened++
			return &fakeIndex{results: results("청크")}, nil
		},
		NewEmbedder: func(config.EmbeddingConfig, string) (embedding.Client, error) {
			return &fakeEmbedder{vector: []float32{1, 0}}, nil
		},
		NewLLM: func(config.LLMConfig, string) (llm.Client, error) {
			return fake, nil
		},
	}
	return b, &opened
}

func TestChainBuilder(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		b, opened := testBuilder(&fakeLLM{})
		_, err := b.Build("  ")
		var initErr *ChainInitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, ChainInitCredentialMissing, initErr.Kind)
		assert.Equal(t, 0, *opened)
	})

	t.Run("index load failure", func(t *testing.T) {
		b, _ := testBuilder(&fakeLLM{})
		b.OpenIndex = func(config.IndexConfig, string) (repository.IndexRepository, error) {
			return nil, repository.ErrIndexNotFound
		}
		_, err := b.Build("hf_token")
		var initErr *ChainInitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, ChainInitIndexLoad, initErr.Kind)
		assert.ErrorIs(t, err, repository.ErrIndexNotFound)
	})

	t.Run("endpoint failure", func(t *testing.T) {
		b, _ := testBuilder(&fakeLLM{})
		b.NewLLM = func(config.LLMConfig, string) (llm.Client, error) {
			return nil, errors.New("bad base url")
		}
		_, err := b.Build("hf_token")
		var initErr *ChainInitError
		require.ErrorAs(t, err, &initErr)
		assert.Equal(t, ChainInitEndpoint, initErr.Kind)
	})

	t.Run("ready", func(t *testing.T) {
		b, opened := testBuilder(&fakeLLM{fragments: []string{"ok"}})
		chain, err := b.Build("hf_token")
		require.NoError(t, err)
		assert.Equal(t, 1, *opened)
		answer, err := chain.Invoke(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "ok", answer)
	})
}

func TestChainCacheMemoizes(t *testing.T) {
	builds := map[string]int{}
	cache := NewChainCache(func(credential string) (*AnswerChain, error) {
		builds[credential]++
		if credential == "" {
			return nil, &ChainInitError{Kind: ChainInitCredentialMissing}
		}
		return NewAnswerChain(&fakeRetriever{}, &fakeLLM{}, testLLMConfig(""), 4)
	})

	for i := 0; i < 3; i++ {
		_, err := cache.Get("")
		assert.Error(t, err)
		chain, err := cache.Get("hf_a")
		require.NoError(t, err)
		assert.NotNil(t, chain)
	}
	first, _ := cache.Get("hf_a")
	second, _ := cache.Get("hf_a")
	assert.Same(t, first, second)
	assert.Equal(t, map[string]int{"": 1, "hf_a": 1}, builds)
}
