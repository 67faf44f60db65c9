// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mogu-chat/internal/config"
	"mogu-chat/internal/model"
	"mogu-chat/internal/repository"
	"mogu-chat/pkg/llm"
	"mogu-chat/pkg/log"
)

const (
	// ApologyMessage 是问答链未就绪时对每个问题的固定回复。
	ApologyMessage = "죄송합니다. 챗봇이 아직 준비되지 않아 답변을 드릴 수 없어요. 관리자에게 API 토큰 설정을 확인해달라고 요청해주세요."
	// GenerationFailedMessage 是远端生成失败时展示给当前轮次的一次性提示。
	GenerationFailedMessage = "답변을 생성하는 중 문제가 발생했어요. 잠시 후 다시 시도해주세요."
)

var (
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrUnknownSuggestion = errors.New("unknown suggestion")
	// ErrGeneration 表示本轮检索或生成失败，会话本身不受影响。
	ErrGeneration = errors.New("answer generation failed")
)

// ChatService 定义了聊天界面背后的操作。
type ChatService interface {
	// Ask 追加用户消息，生成答案并追加助手消息。流式片段按到达顺序写入 w。
	Ask(ctx context.Context, sess *model.Session, question string, w llm.FragmentWriter) (model.ChatMessage, error)
	// AskSuggestion 按 ID 取出预设问题，走与 Ask 完全相同的路径。
	AskSuggestion(ctx context.Context, sess *model.Session, suggestionID string, w llm.FragmentWriter) (model.ChatMessage, error)
	History(ctx context.Context, sess *model.Session) ([]model.ChatMessage, error)
	Suggestions() []model.Suggestion
	// Ready 报告问答链是否初始化成功，失败时返回 *ChainInitError。
	Ready() (bool, error)
}

type chatService struct {
	chains           *ChainCache
	credential       string
	conversationRepo repository.ConversationRepository
	cfg              config.ChatConfig
	suggestions      []model.Suggestion
	now              func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chains *ChainCache, credential string, conversationRepo repository.ConversationRepository, cfg config.ChatConfig) ChatService {
	suggestions := make([]model.Suggestion, 0, len(cfg.Suggestions))
	for i, s := range cfg.Suggestions {
		suggestions = append(suggestions, model.Suggestion{
			ID:       fmt.Sprintf("q%d", i+1),
			Label:    s.Label,
			Question: s.Question,
		})
	}
	return &chatService{
		chains:           chains,
		credential:       credential,
		conversationRepo: conversationRepo,
		cfg:              cfg,
		suggestions:      suggestions,
		now:              time.Now,
	}
}

func (s *chatService) Ready() (bool, error) {
	_, err := s.chains.Get(s.credential)
	return err == nil, err
}

func (s *chatService) Suggestions() []model.Suggestion {
	out := make([]model.Suggestion, len(s.suggestions))
	copy(out, s.suggestions)
	return out
}

func (s *chatService) History(ctx context.Context, sess *model.Session) ([]model.ChatMessage, error) {
	return s.conversationRepo.History(ctx, sess.ID)
}

func (s *chatService) AskSuggestion(ctx context.Context, sess *model.Session, suggestionID string, w llm.FragmentWriter) (model.ChatMessage, error) {
	for _, sg := range s.suggestions {
		if sg.ID == suggestionID {
			return s.Ask(ctx, sess, sg.Question, w)
		}
	}
	return model.ChatMessage{}, fmt.Errorf("%w: %s", ErrUnknownSuggestion, suggestionID)
}

func (s *chatService) Ask(ctx context.Context, sess *model.Session, question string, w llm.FragmentWriter) (model.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.ChatMessage{}, ErrEmptyQuestion
	}
	log.Infof("[ChatService] 收到问题, session: %s, question: '%s'", sess.ID, question)

	userMsg := model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: s.now()}
	if err := s.conversationRepo.Append(ctx, sess.ID, userMsg); err != nil {
		return model.ChatMessage{}, fmt.Errorf("failed to save user message: %w", err)
	}

	chain, err := s.chains.Get(s.credential)
	if err != nil {
		log.Warnf("[ChatService] 问答链未就绪, 返回固定回复, session: %s", sess.ID)
		return s.appendAssistant(ctx, sess, ApologyMessage)
	}

	turnCtx := ctx
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	var answer string
	if s.cfg.Stream {
		answer, err = chain.Stream(turnCtx, question, w)
	} else {
		answer, err = chain.Invoke(turnCtx, question)
		if err == nil {
			err = w.WriteFragment(answer)
		}
	}
	if err != nil {
		log.Errorf("[ChatService] 生成答案失败, session: %s, error: %v", sess.ID, err)
		return model.ChatMessage{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	// 即使连接已断开也保存已生成的答案
	return s.appendAssistant(context.WithoutCancel(ctx), sess, answer)
}

func (s *chatService) appendAssistant(ctx context.Context, sess *model.Session, content string) (model.ChatMessage, error) {
	msg := model.ChatMessage{Role: model.RoleAssistant, Content: content, Timestamp: s.now()}
	if err := s.conversationRepo.Append(ctx, sess.ID, msg); err != nil {
		return msg, fmt.Errorf("failed to save assistant message: %w", err)
	}
	return msg, nil
}
