package handler

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"mogu-chat/internal/service"
	"mogu-chat/internal/web"
	"mogu-chat/pkg/log"
)

// PageHandler 渲染聊天页面。
type PageHandler struct {
	chatService service.ChatService
	title       string
	tmpl        *template.Template
}

// NewPageHandler 创建一个新的 PageHandler，模板在这里一次性解析。
func NewPageHandler(chatService service.ChatService, title string) (*PageHandler, error) {
	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	return &PageHandler{chatService: chatService, title: title, tmpl: tmpl}, nil
}

// Index 返回聊天页面。问答链未就绪时页面顶部显示初始化失败的横幅并禁用输入框。
func (h *PageHandler) Index(c *gin.Context) {
	data := web.PageData{
		PageTitle:   web.PageTitle,
		Title:       h.title,
		Welcome:     web.WelcomeMessage,
		FAQTitle:    web.FAQTitle,
		Placeholder: web.InputPlaceholder,
		Spinner:     web.SpinnerMessage,
	}
	if ready, _ := h.chatService.Ready(); !ready {
		data.Banner = web.BannerMessage
	}
	for _, sg := range h.chatService.Suggestions() {
		data.Suggestions = append(data.Suggestions, web.Suggestion{ID: sg.ID, Label: sg.Label})
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.tmpl.ExecuteTemplate(c.Writer, "index.html", data); err != nil {
		log.Errorf("渲染页面失败: %v", err)
	}
}
