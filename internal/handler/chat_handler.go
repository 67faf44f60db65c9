// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mogu-chat/internal/model"
	"mogu-chat/internal/service"
	"mogu-chat/pkg/log"
	"mogu-chat/pkg/render"
	"mogu-chat/pkg/token"
)

const (
	writeWait = 10 * time.Second

	// invalidRequestMessage 是无法识别的帧的提示。
	invalidRequestMessage = "요청을 처리할 수 없어요. 다시 시도해주세요."
	emptyQuestionMessage  = "질문을 입력해주세요."
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 客户端发来的帧: {"type":"question","text":"..."} 或 {"type":"suggestion","id":"q1"}
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

type messageView struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

// outboundFrame 是服务端推送的帧，type 取 history / turn / chunk / error / completion。
type outboundFrame struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	HTML      string        `json:"html,omitempty"`
	Chunk     string        `json:"chunk,omitempty"`
	Error     string        `json:"error,omitempty"`
	Status    string        `json:"status,omitempty"`
	Ready     *bool         `json:"ready,omitempty"`
	Messages  []messageView `json:"messages,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		jwtManager:  jwtManager,
	}
}

// Handle 处理一个传入的 WebSocket 连接。每个连接一个读协程，同一会话同一时间只处理一轮问答。
// token 在升级之后校验，校验失败以 1008 关闭连接，浏览器据此丢弃缓存的 token。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		log.Warnf("WebSocket token 校验失败: %v", err)
		closeConn(conn, websocket.ClosePolicyViolation, "invalid token")
		return
	}

	// 被劫持的连接上 c.Request.Context() 不会随对端离开而取消，改由读协程在读失败时取消
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess := model.NewSession(claims.SessionID)
	log.Infof("WebSocket 连接已建立，会话: %s", sess.ID)

	if err := h.sendHistory(ctx, conn, sess); err != nil {
		log.Warnf("发送历史消息失败, 会话: %s, err: %v", sess.ID, err)
		return
	}

	for message := range readLoop(ctx, cancel, conn) {
		var in inboundFrame
		if err := json.Unmarshal(message, &in); err != nil {
			log.Warnf("无法解析的 WebSocket 消息: %s", string(message))
			if err := h.finishWithError(conn, invalidRequestMessage); err != nil {
				break
			}
			continue
		}
		if err := h.handleTurn(ctx, conn, sess, in); err != nil {
			log.Warnf("本轮问答中断, 会话: %s, err: %v", sess.ID, err)
			break
		}
	}
	log.Infof("WebSocket 连接已关闭，会话: %s", sess.ID)
}

// readLoop 在独立协程中读取客户端消息。读失败（对端离开、连接关闭）时取消 ctx 并关闭返回的通道。
func readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) <-chan []byte {
	frames := make(chan []byte)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("从 WebSocket 读取消息失败: %v", err)
				}
				return
			}
			select {
			case frames <- message:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// handleTurn 处理一轮问答。只有写连接失败时才返回错误，业务错误以 error 帧告知客户端。
func (h *ChatHandler) handleTurn(ctx context.Context, conn *websocket.Conn, sess *model.Session, in inboundFrame) error {
	var question string
	switch in.Type {
	case "question":
		question = strings.TrimSpace(in.Text)
		if question == "" {
			return h.finishWithError(conn, emptyQuestionMessage)
		}
	case "suggestion":
		for _, sg := range h.chatService.Suggestions() {
			if sg.ID == in.ID {
				question = sg.Question
			}
		}
		if question == "" {
			return h.finishWithError(conn, invalidRequestMessage)
		}
	default:
		return h.finishWithError(conn, invalidRequestMessage)
	}

	if err := writeFrame(conn, turnFrame(model.RoleUser, question)); err != nil {
		return err
	}

	w := &chunkWriter{conn: conn}
	var (
		msg model.ChatMessage
		err error
	)
	if in.Type == "suggestion" {
		msg, err = h.chatService.AskSuggestion(ctx, sess, in.ID, w)
	} else {
		msg, err = h.chatService.Ask(ctx, sess, question, w)
	}
	if err != nil {
		if w.err != nil {
			return w.err
		}
		if ctx.Err() != nil {
			// 客户端已离开，不再回写
			return ctx.Err()
		}
		switch {
		case errors.Is(err, service.ErrEmptyQuestion):
			return h.finishWithError(conn, emptyQuestionMessage)
		case errors.Is(err, service.ErrUnknownSuggestion):
			return h.finishWithError(conn, invalidRequestMessage)
		default:
			log.Errorf("处理问答失败, 会话: %s, err: %v", sess.ID, err)
			return h.finishWithError(conn, service.GenerationFailedMessage)
		}
	}

	if err := writeFrame(conn, turnFrame(model.RoleAssistant, msg.Content)); err != nil {
		return err
	}
	return writeFrame(conn, completionFrame())
}

func (h *ChatHandler) sendHistory(ctx context.Context, conn *websocket.Conn, sess *model.Session) error {
	history, err := h.chatService.History(ctx, sess)
	if err != nil {
		log.Errorf("读取会话历史失败, 会话: %s, err: %v", sess.ID, err)
		history = nil
	}
	ready, _ := h.chatService.Ready()
	views := make([]messageView, 0, len(history))
	for _, m := range history {
		views = append(views, messageView{Role: m.Role, Content: m.Content, HTML: renderHTML(m.Content)})
	}
	return writeFrame(conn, outboundFrame{Type: "history", Ready: &ready, Messages: views})
}

func (h *ChatHandler) finishWithError(conn *websocket.Conn, message string) error {
	if err := writeFrame(conn, outboundFrame{Type: "error", Error: message}); err != nil {
		return err
	}
	return writeFrame(conn, completionFrame())
}

// chunkWriter 把流式片段逐个作为 chunk 帧推给客户端，并记住第一次写失败。
type chunkWriter struct {
	conn *websocket.Conn
	err  error
}

func (w *chunkWriter) WriteFragment(fragment string) error {
	if w.err != nil {
		return w.err
	}
	w.err = writeFrame(w.conn, outboundFrame{Type: "chunk", Chunk: fragment})
	return w.err
}

func turnFrame(role, content string) outboundFrame {
	return outboundFrame{Type: "turn", Role: role, Content: content, HTML: renderHTML(content)}
}

func completionFrame() outboundFrame {
	return outboundFrame{Type: "completion", Status: "finished"}
}

func renderHTML(content string) string {
	html, err := render.Markdown(content)
	if err != nil {
		log.Warnf("渲染 Markdown 失败: %v", err)
		return ""
	}
	return html
}

// closeConn 发送关闭帧，随后由调用方关闭底层连接。
func closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Warnf("发送 WebSocket 关闭帧失败: %v", err)
	}
}

func writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
