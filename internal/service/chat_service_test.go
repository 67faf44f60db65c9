package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogu-chat/internal/config"
	"mogu-chat/internal/model"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/llm"
)

var testSuggestions = []config.SuggestionConfig{
	{Label: "수수료 제한", Question: "모구 수수료 제한은 어떻게 되나요?"},
	{Label: "마감 기한", Question: "모구 마감 기한은 며칠까지 가능한가요?"},
	{Label: "판매 금지 품목", Question: "모구에서 팔면 안되는 물건은 무엇인가요?"},
}

func newTestChatService(t *testing.T, fake *fakeLLM, credential string, stream bool) (ChatService, repository.ConversationRepository) {
	t.Helper()
	return newTestChatServiceWithConfig(t, fake, credential, config.ChatConfig{
		Stream:      stream,
		TurnTimeout: time.Minute,
		Suggestions: testSuggestions,
	})
}

func newTestChatServiceWithConfig(t *testing.T, fake *fakeLLM, credential string, cfg config.ChatConfig) (ChatService, repository.ConversationRepository) {
	t.Helper()
	b, _ := testBuilder(fake)
	repo := repository.NewMemoryConversationRepository(time.Hour)
	return NewChatService(NewChainCache(b.Build), credential, repo, cfg), repo
}

type recordingWriter struct{ fragments []string }

func (w *recordingWriter) WriteFragment(f string) error {
	w.fragments = append(w.fragments, f)
	return nil
}

func TestAskStreamsAndRecordsTurns(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"안", "녕", "하세요"}}
	svc, _ := newTestChatService(t, fake, "hf_token", true)
	sess := model.NewSession("s1")
	w := &recordingWriter{}

	msg, err := svc.Ask(context.Background(), sess, "  인사해줘 ", w)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "안녕하세요", msg.Content)
	assert.Equal(t, []string{"안", "녕", "하세요"}, w.fragments)

	history, err := svc.History(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ChatMessage{Role: model.RoleUser, Content: "인사해줘"}, model.ChatMessage{Role: history[0].Role, Content: history[0].Content})
	assert.Equal(t, "안녕하세요", history[1].Content)
}

func TestAskWithoutStreamingUsesInvoke(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"한 ", "번에"}}
	svc, _ := newTestChatService(t, fake, "hf_token", false)
	w := &recordingWriter{}

	msg, err := svc.Ask(context.Background(), model.NewSession("s1"), "q", w)
	require.NoError(t, err)
	assert.Equal(t, "한 번에", msg.Content)
	assert.Equal(t, []string{"한 번에"}, w.fragments)
	require.Len(t, fake.calls, 1)
	assert.False(t, fake.calls[0].stream)
}

func TestAskWithoutCredentialApologizes(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"never"}}
	svc, _ := newTestChatService(t, fake, "", true)
	sess := model.NewSession("s1")

	ready, err := svc.Ready()
	assert.False(t, ready)
	var initErr *ChainInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, ChainInitCredentialMissing, initErr.Kind)

	for _, q := range []string{"수수료?", "마감?", "금지 품목?"} {
		w := &recordingWriter{}
		msg, err := svc.Ask(context.Background(), sess, q, w)
		require.NoError(t, err)
		assert.Equal(t, ApologyMessage, msg.Content)
		assert.Empty(t, w.fragments)
	}
	_, err = svc.AskSuggestion(context.Background(), sess, "q1", &recordingWriter{})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.callCount())
	history, _ := svc.History(context.Background(), sess)
	require.Len(t, history, 8)
	for i := 1; i < len(history); i += 2 {
		assert.Equal(t, ApologyMessage, history[i].Content)
	}
}

func TestAskEndpointFailure(t *testing.T) {
	boom := errors.New("503")
	fake := &fakeLLM{fragments: []string{"부분"}, err: boom}
	svc, _ := newTestChatService(t, fake, "hf_token", true)
	sess := model.NewSession("s1")

	_, err := svc.Ask(context.Background(), sess, "q", &recordingWriter{})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, boom)

	history, _ := svc.History(context.Background(), sess)
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)

	// 会话继续可用
	fake.err = nil
	msg, err := svc.Ask(context.Background(), sess, "again", &recordingWriter{})
	require.NoError(t, err)
	assert.Equal(t, "부분", msg.Content)
	history, _ = svc.History(context.Background(), sess)
	assert.Len(t, history, 3)
}

func TestAskTurnTimeout(t *testing.T) {
	for _, stream := range []bool{true, false} {
		t.Run(fmt.Sprintf("stream=%v", stream), func(t *testing.T) {
			fake := &fakeLLM{fragments: []string{"늦은 답"}, block: true}
			svc, _ := newTestChatServiceWithConfig(t, fake, "hf_token", config.ChatConfig{
				Stream:      stream,
				TurnTimeout: 50 * time.Millisecond,
			})
			sess := model.NewSession("s1")

			start := time.Now()
			_, err := svc.Ask(context.Background(), sess, "느린 질문", &recordingWriter{})
			assert.ErrorIs(t, err, ErrGeneration)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 5*time.Second)

			// 超时的一轮只留下用户消息
			history, err := svc.History(context.Background(), sess)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, model.RoleUser, history[0].Role)
			assert.Equal(t, "느린 질문", history[0].Content)

			// 下一轮照常受理
			fake.block = false
			msg, err := svc.Ask(context.Background(), sess, "다시", &recordingWriter{})
			require.NoError(t, err)
			assert.Equal(t, "늦은 답", msg.Content)
			history, _ = svc.History(context.Background(), sess)
			require.Len(t, history, 3)
			assert.Equal(t, model.RoleAssistant, history[2].Role)
		})
	}
}

func TestSuggestionMatchesTypedQuestion(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"답"}}
	svc, _ := newTestChatService(t, fake, "hf_token", true)

	_, err := svc.AskSuggestion(context.Background(), model.NewSession("button"), "q2", &recordingWriter{})
	require.NoError(t, err)
	_, err = svc.Ask(context.Background(), model.NewSession("typed"), "모구 마감 기한은 며칠까지 가능한가요?", &recordingWriter{})
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, fake.calls[0], fake.calls[1])

	_, err = svc.AskSuggestion(context.Background(), model.NewSession("x"), "q9", &recordingWriter{})
	assert.ErrorIs(t, err, ErrUnknownSuggestion)
}

func TestSuggestionTurnsRecordPresetQuestion(t *testing.T) {
	fake := &fakeLLM{fragments: []string{"답"}}
	svc, _ := newTestChatService(t, fake, "hf_token", true)
	sess := model.NewSession("s1")

	for _, id := range []string{"q1", "q3"} {
		_, err := svc.AskSuggestion(context.Background(), sess, id, &recordingWriter{})
		require.NoError(t, err)
	}
	_, err := svc.AskSuggestion(context.Background(), sess, "q9", &recordingWriter{})
	require.ErrorIs(t, err, ErrUnknownSuggestion)

	history, err := svc.History(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, testSuggestions[0].Question, history[0].Content)
	assert.Equal(t, testSuggestions[2].Question, history[2].Content)
	assert.Equal(t, 2, fake.callCount())
}

func TestSuggestionsAndEmptyQuestion(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeLLM{}, "hf_token", true)

	suggestions := svc.Suggestions()
	require.Len(t, suggestions, 3)
	assert.Equal(t, model.Suggestion{ID: "q1", Label: "수수료 제한", Question: "모구 수수료 제한은 어떻게 되나요?"}, suggestions[0])

	_, err := svc.Ask(context.Background(), model.NewSession("s"), "   ", llm.FragmentWriterFunc(func(string) error { return nil }))
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	ready, err := svc.Ready()
	assert.True(t, ready)
	assert.NoError(t, err)
}
