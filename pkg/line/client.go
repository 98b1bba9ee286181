package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"line-smart-go/internal/config"
	"net/http"
	"strings"
	"time"
)

const (
	// 单条文本消息的最大字符数
	maxTextRunes = 5000
	// 一次 reply/push 最多携带的消息数
	maxMessages = 5
)

// APIError 表示 Messaging API 返回了非 2xx 响应。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("line api error: status=%d message=%s", e.Status, e.Message)
}

// Client 是 Messaging API 的 HTTP 客户端。
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg config.LineConfig) *Client {
	return newClient(cfg, &http.Client{Timeout: 10 * time.Second})
}

func newClient(cfg config.LineConfig, httpClient *http.Client) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.line.me"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.ChannelAccessToken,
		http:    httpClient,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textMessages(texts []string) []textMessage {
	out := make([]textMessage, 0, len(texts))
	for _, t := range texts {
		if len(out) == maxMessages {
			break
		}
		if r := []rune(t); len(r) > maxTextRunes {
			t = string(r[:maxTextRunes])
		}
		out = append(out, textMessage{Type: MessageText, Text: t})
	}
	return out
}

// Reply 使用 replyToken 回复文本消息。
func (c *Client) Reply(ctx context.Context, replyToken string, texts ...string) error {
	return c.post(ctx, "/v2/bot/message/reply", map[string]interface{}{
		"replyToken": replyToken,
		"messages":   textMessages(texts),
	})
}

// Push 主动向用户推送文本消息。
func (c *Client) Push(ctx context.Context, to string, texts ...string) error {
	return c.post(ctx, "/v2/bot/message/push", map[string]interface{}{
		"to":       to,
		"messages": textMessages(texts),
	})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal line request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create line request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call line api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	return nil
}
