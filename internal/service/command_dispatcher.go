package service

import (
	"context"
	"line-smart-go/internal/model"
	"line-smart-go/pkg/log"
	"strings"
	"time"
)

// 指令前缀与支持的指令。
const (
	CommandMarker  = "/"
	CommandClear   = "/clear"
	CommandSummary = "/summary"
	CommandHelp    = "/help"
	CommandTools   = "/tools"
)

// CommandDispatcher 识别 "/" 开头的固定指令。未知指令不算错误，交给普通对话处理。
type CommandDispatcher interface {
	// Dispatch 返回指令回复；handled 为 false 表示不是指令。
	Dispatch(ctx context.Context, userID, sessionID, text string) (reply string, handled bool)
}

type commandHandler func(ctx context.Context, userID, sessionID string) string

type commandDispatcher struct {
	store        ConversationStore
	cache        *ActiveCache
	generator    Generator
	summaryLimit int
	now          func() time.Time
	handlers     map[string]commandHandler
}

// NewCommandDispatcher 创建指令分发器。
func NewCommandDispatcher(store ConversationStore, cache *ActiveCache, generator Generator, summaryLimit int) CommandDispatcher {
	return newCommandDispatcher(store, cache, generator, summaryLimit, time.Now)
}

func newCommandDispatcher(store ConversationStore, cache *ActiveCache, generator Generator, summaryLimit int, now func() time.Time) *commandDispatcher {
	if summaryLimit <= 0 {
		summaryLimit = 20
	}
	d := &commandDispatcher{
		store:        store,
		cache:        cache,
		generator:    generator,
		summaryLimit: summaryLimit,
		now:          now,
	}
	d.handlers = map[string]commandHandler{
		CommandClear:   d.clear,
		CommandSummary: d.summary,
		CommandHelp:    func(context.Context, string, string) string { return HelpText },
		CommandTools:   func(context.Context, string, string) string { return ToolsText },
	}
	return d
}

// ParseCommand 返回规范化后的指令名；不是已知指令时 ok 为 false。
// 首字符必须是指令标记，前导空白的文本按普通消息处理。
func ParseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, CommandMarker) {
		return "", false
	}
	cmd := strings.ToLower(text)
	switch cmd {
	case CommandClear, CommandSummary, CommandHelp, CommandTools:
		return cmd, true
	}
	return "", false
}

func (d *commandDispatcher) Dispatch(ctx context.Context, userID, sessionID, text string) (string, bool) {
	cmd, ok := ParseCommand(text)
	if !ok {
		return "", false
	}
	log.Infow("command received", "command", cmd, "userId", userID, "sessionId", sessionID)
	return d.handlers[cmd](ctx, userID, sessionID), true
}

// clear 清空进程内的工作集，并在快照中记录清除时间；持久化的对话日志保持不变。
func (d *commandDispatcher) clear(ctx context.Context, userID, sessionID string) string {
	state := d.currentState(ctx, userID, sessionID)
	d.cache.Evict(userID, sessionID)

	now := d.now().UTC()
	state.ClearedAt = &now
	state.Summary = ""
	if err := d.store.UpsertMemory(ctx, userID, sessionID, state); err != nil {
		log.Warnw("failed to record memory clear", "userId", userID, "sessionId", sessionID, "error", err)
	}
	return ClearedText
}

func (d *commandDispatcher) summary(ctx context.Context, userID, sessionID string) string {
	history, state := d.summaryHistory(ctx, userID, sessionID)
	if len(history) == 0 {
		return NoHistoryText
	}

	var b strings.Builder
	b.WriteString(SummaryPromptTitle)
	for i, t := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		if t.MessageType == model.MessageTypeAssistant {
			b.WriteString("助手: ")
		} else {
			b.WriteString("用戶: ")
		}
		b.WriteString(t.Text())
	}

	out, err := d.generator.Generate(ctx, "", nil, b.String())
	if err != nil {
		log.Warnw("failed to summarize conversation", "userId", userID, "sessionId", sessionID, "error", err)
		return SummaryFailedText
	}

	if conv, ok := d.cache.Get(userID, sessionID); ok {
		state = conv.SetSummary(out)
	} else {
		state.Summary = out
	}
	if err := d.store.UpsertMemory(ctx, userID, sessionID, state); err != nil {
		log.Warnw("failed to store conversation summary", "userId", userID, "sessionId", sessionID, "error", err)
	}
	return out
}

// summaryHistory 优先读取持久化历史；未启用持久化时使用进程内工作集。
func (d *commandDispatcher) summaryHistory(ctx context.Context, userID, sessionID string) ([]model.ConversationTurn, model.MemoryState) {
	state := d.currentState(ctx, userID, sessionID)
	if !d.store.Enabled() {
		if conv, ok := d.cache.Get(userID, sessionID); ok {
			return conv.History(), state
		}
		return nil, state
	}
	turns, err := d.store.ReadHistory(ctx, userID, sessionID, d.summaryLimit)
	if err != nil {
		log.Warnw("failed to load history for summary", "userId", userID, "sessionId", sessionID, "error", err)
		return nil, state
	}
	return afterClear(turns, state.ClearedAt), state
}

func (d *commandDispatcher) currentState(ctx context.Context, userID, sessionID string) model.MemoryState {
	if conv, ok := d.cache.Get(userID, sessionID); ok {
		return conv.State()
	}
	state, err := d.store.ReadMemory(ctx, userID, sessionID)
	if err != nil {
		log.Warnw("failed to read memory snapshot", "userId", userID, "sessionId", sessionID, "error", err)
	}
	if state == nil {
		return model.MemoryState{}
	}
	return *state
}

// afterClear 丢弃 clearedAt 之前（含）的记录。
func afterClear(turns []model.ConversationTurn, clearedAt *time.Time) []model.ConversationTurn {
	if clearedAt == nil {
		return turns
	}
	out := turns[:0:0]
	for _, t := range turns {
		if t.Timestamp.After(*clearedAt) {
			out = append(out, t)
		}
	}
	return out
}
