package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表会话中的一轮消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Suggestion 是界面上的预设问题按钮。
type Suggestion struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Question string `json:"question"`
}

// Session 是一个浏览器会话的服务端状态，按引用在 handler 之间传递。
// 历史消息保存在 ConversationRepository 中；按钮问题在同一轮内直接交给 Ask，不在会话上暂存。
type Session struct {
	ID string
}

// NewSession 创建一个会话对象。
func NewSession(id string) *Session {
	return &Session{ID: id}
}
