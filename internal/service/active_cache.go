package service

import (
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ActiveConversation 是某个 (userID, sessionID) 在进程内的工作集：最近历史与派生状态。
// 丢失只影响性能，随时可以从 ConversationStore 重建。
type ActiveConversation struct {
	UserID    string
	SessionID string
	CreatedAt time.Time

	mu        sync.Mutex
	history   []model.ConversationTurn
	state     model.MemoryState
	expiresAt time.Time
}

func newActiveConversation(userID, sessionID string, history []model.ConversationTurn, state model.MemoryState, now time.Time) *ActiveConversation {
	return &ActiveConversation{
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		history:   history,
		state:     state,
	}
}

// Messages 把历史转换为角色消息：用户行取提问，助手行取回复。
func (a *ActiveConversation) Messages() []model.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return toChatMessages(a.history)
}

// History 返回历史的副本。
func (a *ActiveConversation) History() []model.ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ConversationTurn, len(a.history))
	copy(out, a.history)
	return out
}

// Record 追加一次完整交换并更新派生状态，历史只保留最近 limit 条。
func (a *ActiveConversation) Record(user, assistant model.ConversationTurn, caps intent.Set, limit int, now time.Time) model.MemoryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, user, assistant)
	if limit > 0 && len(a.history) > limit {
		a.history = append([]model.ConversationTurn(nil), a.history[len(a.history)-limit:]...)
	}
	a.state.TurnCount++
	a.state.LastCapabilities = caps.Strings()
	a.state.LastActiveAt = now
	return a.state
}

// RecordUnanswered 只追加用户消息，用于所有生成策略都失败的情况；派生状态不变。
func (a *ActiveConversation) RecordUnanswered(user model.ConversationTurn, limit int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, user)
	if limit > 0 && len(a.history) > limit {
		a.history = append([]model.ConversationTurn(nil), a.history[len(a.history)-limit:]...)
	}
}

// State 返回派生状态的副本。
func (a *ActiveConversation) State() model.MemoryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetSummary 记录最近一次 /summary 的结果。
func (a *ActiveConversation) SetSummary(summary string) model.MemoryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Summary = summary
	return a.state
}

// ExpiresAt 返回当前过期时间。
func (a *ActiveConversation) ExpiresAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expiresAt
}

func toChatMessages(turns []model.ConversationTurn) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(turns))
	for _, t := range turns {
		role := model.RoleUser
		if t.MessageType == model.MessageTypeAssistant {
			role = model.RoleAssistant
		}
		text := t.Text()
		if text == "" {
			continue
		}
		msgs = append(msgs, model.ChatMessage{Role: role, Content: text, Timestamp: t.Timestamp})
	}
	return msgs
}

// ActiveCache 以 go-cache 保存 ActiveConversation，采用滑动过期：
// 每次命中都会把过期时间重置为 now+ttl。是否过期只取决于注入的时钟与记录的过期时间，
// go-cache 的 janitor 负责回收长时间未访问的条目。
type ActiveCache struct {
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewActiveCache 创建一个缓存，ttl <= 0 时使用 30 分钟。
func NewActiveCache(ttl time.Duration) *ActiveCache {
	return newActiveCache(ttl, time.Now)
}

func newActiveCache(ttl time.Duration, now func() time.Time) *ActiveCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ActiveCache{
		items: cache.New(ttl, ttl/2),
		ttl:   ttl,
		now:   now,
	}
}

func cacheKey(userID, sessionID string) string {
	return userID + "_" + sessionID
}

// Get 返回未过期的条目并续期；已过期的条目会被立即移除。
func (c *ActiveCache) Get(userID, sessionID string) (*ActiveConversation, bool) {
	key := cacheKey(userID, sessionID)
	x, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	conv := x.(*ActiveConversation)
	now := c.now()

	conv.mu.Lock()
	if !now.Before(conv.expiresAt) {
		conv.mu.Unlock()
		c.items.Delete(key)
		return nil, false
	}
	conv.expiresAt = now.Add(c.ttl)
	conv.mu.Unlock()

	c.items.Set(key, conv, c.ttl)
	return conv, true
}

// Add 放入新条目。若同一个 key 已有未过期条目则保留旧条目并返回它。
func (c *ActiveCache) Add(conv *ActiveConversation) *ActiveConversation {
	if existing, ok := c.Get(conv.UserID, conv.SessionID); ok {
		return existing
	}
	conv.mu.Lock()
	conv.expiresAt = c.now().Add(c.ttl)
	conv.mu.Unlock()
	c.items.Set(cacheKey(conv.UserID, conv.SessionID), conv, c.ttl)
	return conv
}

// Evict 移除条目，不存在时什么也不做。
func (c *ActiveCache) Evict(userID, sessionID string) {
	c.items.Delete(cacheKey(userID, sessionID))
}

// Len 返回当前条目数（包括尚未被回收的过期条目）。
func (c *ActiveCache) Len() int {
	return c.items.ItemCount()
}
