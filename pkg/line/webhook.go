// Package line 实现 LINE Messaging API 的最小子集：webhook 解析、签名校验与 reply/push 消息。
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureHeader 是 LINE 平台携带签名的请求头。
const SignatureHeader = "X-Line-Signature"

// 事件类型
const (
	EventMessage  = "message"
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
	EventJoin     = "join"
	EventLeave    = "leave"
)

// MessageText 是文本消息的类型。
const MessageText = "text"

// WebhookRequest 是一次 webhook 推送，包含一批事件。
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event 是 webhook 中的一个事件。Timestamp 为毫秒。
type Event struct {
	Type            string          `json:"type"`
	WebhookEventID  string          `json:"webhookEventId"`
	ReplyToken      string          `json:"replyToken"`
	Timestamp       int64           `json:"timestamp"`
	Mode            string          `json:"mode"`
	Source          Source          `json:"source"`
	Message         *Message        `json:"message,omitempty"`
	DeliveryContext DeliveryContext `json:"deliveryContext"`
}

// Time 返回事件的投递时间。
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Source 标识事件来源。
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Message 是消息事件携带的内容，非文本消息只有 ID 与类型。
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// VerifySignature 校验 body 的 HMAC-SHA256 签名（base64）。
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(decoded) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// Sign 计算 body 的签名，与 VerifySignature 对应。
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseRequest 解析 webhook 请求体。
func ParseRequest(body []byte) (*WebhookRequest, error) {
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to decode webhook body: %w", err)
	}
	return &req, nil
}
