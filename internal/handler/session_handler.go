package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mogu-chat/internal/service"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/token"
)

// SessionHandler 负责签发浏览器会话令牌与只读的会话接口。
type SessionHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(chatService service.ChatService, jwtManager *token.JWTManager) *SessionHandler {
	return &SessionHandler{chatService: chatService, jwtManager: jwtManager}
}

// Create 为新的浏览器会话生成会话 ID 与令牌。
func (h *SessionHandler) Create(c *gin.Context) {
	sessionID := uuid.NewString()
	tokenString, err := h.jwtManager.GenerateToken(sessionID)
	if err != nil {
		log.Errorf("生成会话令牌失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "生成会话令牌失败", "data": nil})
		return
	}
	log.Infof("创建新会话: %s", sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"token": tokenString, "sessionId": sessionID}})
}

// Suggestions 返回预设问题列表。
func (h *SessionHandler) Suggestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.chatService.Suggestions()})
}

// Health 报告问答链是否就绪。未就绪时返回 503 与初始化错误。
func (h *SessionHandler) Health(c *gin.Context) {
	ready, err := h.chatService.Ready()
	if ready {
		c.JSON(http.StatusOK, gin.H{"chain": "ready"})
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"chain": "uninitialized", "error": msg})
}
