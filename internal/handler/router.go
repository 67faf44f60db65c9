package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mogu-chat/internal/middleware"
	"mogu-chat/internal/service"
	"mogu-chat/internal/web"
	"mogu-chat/pkg/token"
)

// NewRouter 创建路由引擎并注册页面、API 与 WebSocket 路由。
func NewRouter(chatService service.ChatService, jwtManager *token.JWTManager, title string) (*gin.Engine, error) {
	pageHandler, err := NewPageHandler(chatService, title)
	if err != nil {
		return nil, err
	}
	sessionHandler := NewSessionHandler(chatService, jwtManager)
	chatHandler := NewChatHandler(chatService, jwtManager)

	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger("/api"), gin.Recovery())

	r.GET("/", pageHandler.Index)
	r.StaticFS("/static", http.FS(web.Static()))
	r.GET("/healthz", sessionHandler.Health)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/session", sessionHandler.Create)
		apiV1.GET("/suggestions", sessionHandler.Suggestions)
	}

	r.GET("/chat/:token", chatHandler.Handle)
	return r, nil
}
