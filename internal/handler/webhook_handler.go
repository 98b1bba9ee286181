// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"io"
	"line-smart-go/internal/middleware"
	"line-smart-go/internal/service"
	"line-smart-go/pkg/line"
	"line-smart-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// 固定回复文案
const (
	NonTextReply = "抱歉，我目前只能處理文字訊息。"
	ErrorReply   = "抱歉，系統發生錯誤，請稍後再試。"
	JoinReply    = "大家好！我是 LINE 智能助手，很高興加入這個群組！"
	WelcomeReply = `歡迎使用 LINE 智能助手！ 🤖

我是一個智能助手，具備以下功能：
• 💬 多輪對話記憶
• 🌤️ 天氣查詢
• 🍎 卡路里計算
• ⚖️ BMI 計算
• 🧠 上下文理解

輸入 /help 查看使用說明，請開始與我對話吧！`
)

// 同一批事件最多并发处理的数量
const maxConcurrentEvents = 8

// Replier 用 replyToken 回复文本消息。
type Replier interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
}

// WebhookHandler 把 LINE webhook 事件转换为对话编排调用。
type WebhookHandler struct {
	chatService service.ChatService
	replier     Replier
}

// NewWebhookHandler 创建一个新的 WebhookHandler。
func NewWebhookHandler(chatService service.ChatService, replier Replier) *WebhookHandler {
	return &WebhookHandler{chatService: chatService, replier: replier}
}

// Handle 处理 POST /webhook：并发处理整批事件，全部完成后返回 200。
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取请求体"})
		return
	}
	req, err := line.ParseRequest(body)
	if err != nil {
		log.Warnw("invalid webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}
	log.Infow("received webhook events", "count", len(req.Events))

	h.HandleEvents(c.Request.Context(), req.Events)
	c.String(http.StatusOK, "OK")
}

// HandleEvents 并发处理事件并等待全部完成。单个事件失败不影响其他事件。
func (h *WebhookHandler) HandleEvents(ctx context.Context, events []line.Event) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentEvents)
	for _, ev := range events {
		g.Go(func() error {
			if err := h.handleEvent(ctx, ev); err != nil {
				h.handleError(ctx, ev, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *WebhookHandler) handleEvent(ctx context.Context, ev line.Event) error {
	userID := ev.Source.UserID
	switch ev.Type {
	case line.EventMessage:
		return h.handleMessage(ctx, ev)
	case line.EventFollow:
		log.Infow("user followed", "userId", userID)
		return h.replier.Reply(ctx, ev.ReplyToken, WelcomeReply)
	case line.EventJoin:
		log.Infow("bot joined", "sourceType", ev.Source.Type, "groupId", ev.Source.GroupID, "roomId", ev.Source.RoomID)
		return h.replier.Reply(ctx, ev.ReplyToken, JoinReply)
	case line.EventUnfollow:
		log.Infow("user unfollowed", "userId", userID)
	case line.EventLeave:
		log.Infow("bot left", "sourceType", ev.Source.Type, "groupId", ev.Source.GroupID, "roomId", ev.Source.RoomID)
	default:
		log.Infow("unhandled event type", "type", ev.Type)
	}
	return nil
}

func (h *WebhookHandler) handleMessage(ctx context.Context, ev line.Event) error {
	if ev.Message == nil || ev.Message.Type != line.MessageText {
		return h.replier.Reply(ctx, ev.ReplyToken, NonTextReply)
	}
	userID := ev.Source.UserID
	if userID == "" {
		return errors.New("message event without user id")
	}
	log.Infow("user message received", "userId", userID, "redelivery", ev.DeliveryContext.IsRedelivery)

	// 会话 key 取事件投递时间，重投的事件落在同一会话
	reply := h.chatService.ProcessMessage(ctx, userID, ev.Message.Text, ev.Time())
	return h.replier.Reply(ctx, ev.ReplyToken, reply)
}

// handleError 尽力回复一条错误提示，失败只记录日志。
func (h *WebhookHandler) handleError(ctx context.Context, ev line.Event, err error) {
	log.Errorw("failed to handle webhook event", "type", ev.Type, "userId", ev.Source.UserID, "error", err)
	if ev.ReplyToken == "" {
		return
	}
	if replyErr := h.replier.Reply(ctx, ev.ReplyToken, ErrorReply); replyErr != nil {
		log.Warnw("failed to send error reply", "userId", ev.Source.UserID, "error", replyErr)
	}
}

func rawBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(middleware.RawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body, nil
		}
	}
	return io.ReadAll(c.Request.Body)
}
