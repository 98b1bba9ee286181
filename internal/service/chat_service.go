package service

import (
	"context"
	"fmt"
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"line-smart-go/internal/session"
	"line-smart-go/pkg/events"
	"line-smart-go/pkg/log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 生成策略名称，记录在日志与 TurnRecorded 事件中。
const (
	StrategyPlain    = "plain"
	StrategyTools    = "tools"
	StrategyFallback = "fallback"
	StrategyApology  = "apology"
)

// TurnPublisher 发布已完成的对话事件。发布失败不影响回复。
type TurnPublisher interface {
	PublishTurn(ctx context.Context, event events.TurnRecorded) error
}

// ChatOptions 控制对话编排的行为。
type ChatOptions struct {
	HistoryLimit  int
	MaxIterations int
	// SessionLock 为 true 时，同一会话的消息串行处理。
	SessionLock bool
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// ProcessMessage 处理一条入站文本并总是返回非空回复。
	ProcessMessage(ctx context.Context, userID, text string, at time.Time) string
	// SessionKey 返回 at 所在日期对应的会话 key。
	SessionKey(userID string, at time.Time) string
	// Stats 返回用户的会话统计，未启用持久化时为零值。
	Stats(ctx context.Context, userID string) (model.ConversationStats, error)
	// ResetMemory 删除会话的记忆快照并清空进程内工作集，/clear 记录的清除时间保留。
	ResetMemory(ctx context.Context, userID, sessionID string) error
}

type chatService struct {
	store      ConversationStore
	cache      *ActiveCache
	router     *intent.Router
	dispatcher CommandDispatcher
	generator  Generator
	deriver    session.Deriver
	publisher  TurnPublisher
	locks      *sessionLocks
	opts       ChatOptions
	now        func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。publisher 可以为 nil。
func NewChatService(
	store ConversationStore,
	cache *ActiveCache,
	router *intent.Router,
	dispatcher CommandDispatcher,
	generator Generator,
	deriver session.Deriver,
	publisher TurnPublisher,
	opts ChatOptions,
) ChatService {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 3
	}
	s := &chatService{
		store:      store,
		cache:      cache,
		router:     router,
		dispatcher: dispatcher,
		generator:  generator,
		deriver:    deriver,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
	}
	if opts.SessionLock {
		s.locks = newSessionLocks()
	}
	return s
}

func (s *chatService) SessionKey(userID string, at time.Time) string {
	return s.deriver.Key(userID, at)
}

// ProcessMessage 执行一次完整的编排：指令 → 持久化用户消息 → 载入历史 → 意图识别 → 生成 → 持久化回复。
func (s *chatService) ProcessMessage(ctx context.Context, userID, text string, at time.Time) string {
	sessionID := s.deriver.Key(userID, at)

	// 1. 指令直接返回，不写入对话日志
	if reply, ok := s.dispatcher.Dispatch(ctx, userID, sessionID, text); ok {
		return reply
	}

	if s.locks != nil {
		unlock := s.locks.Lock(cacheKey(userID, sessionID))
		defer unlock()
	}

	// 持久化使用独立于请求的上下文，请求取消后仍尽量写完
	persistCtx := context.WithoutCancel(ctx)
	startedAt := s.now().UTC()

	// 2. 持久化用户消息，失败只记录告警
	userTurn := &model.ConversationTurn{
		UserID:      userID,
		SessionID:   sessionID,
		Message:     text,
		MessageType: model.MessageTypeUser,
		Timestamp:   startedAt,
	}
	persisted := true
	if err := s.store.AppendTurn(persistCtx, userTurn); err != nil {
		persisted = false
		log.Warnw("failed to persist user turn", "userId", userID, "sessionId", sessionID, "error", err)
	}

	// 3. 载入最近历史（不包含当前消息）
	conv := s.activeConversation(persistCtx, userID, sessionID, userTurn.ID)
	history := conv.Messages()

	// 4-6. 意图识别并按策略链生成
	caps := s.router.Classify(text)
	reply, strategy := s.generate(ctx, userID, sessionID, history, text, caps)
	if strategy == StrategyApology {
		// 用户消息已写入日志，工作集同样保留它，与重建后的视图一致
		conv.RecordUnanswered(*userTurn, s.opts.HistoryLimit)
		return reply
	}

	// 7. 持久化助手回复与记忆快照
	response := reply
	assistantTurn := &model.ConversationTurn{
		UserID:      userID,
		SessionID:   sessionID,
		Message:     text,
		Response:    &response,
		MessageType: model.MessageTypeAssistant,
		Timestamp:   s.now().UTC(),
	}
	if err := s.store.AppendTurn(persistCtx, assistantTurn); err != nil {
		persisted = false
		log.Warnw("failed to persist assistant turn", "userId", userID, "sessionId", sessionID, "error", err)
	}
	state := conv.Record(*userTurn, *assistantTurn, caps, s.opts.HistoryLimit, assistantTurn.Timestamp)
	if err := s.store.UpsertMemory(persistCtx, userID, sessionID, state); err != nil {
		log.Warnw("failed to persist memory snapshot", "userId", userID, "sessionId", sessionID, "error", err)
	}

	s.publish(persistCtx, events.TurnRecorded{
		EventID:      uuid.NewString(),
		UserID:       userID,
		SessionID:    sessionID,
		Capabilities: caps.Strings(),
		Strategy:     strategy,
		Fallback:     strategy == StrategyFallback,
		Persisted:    persisted && s.store.Enabled(),
		OccurredAt:   assistantTurn.Timestamp,
	})
	return reply
}

// activeConversation 返回缓存中的工作集；未命中时从 ConversationStore 重建。
// currentTurnID 是刚写入的用户消息，重建时需要排除。
func (s *chatService) activeConversation(ctx context.Context, userID, sessionID string, currentTurnID uint) *ActiveConversation {
	if conv, ok := s.cache.Get(userID, sessionID); ok {
		return conv
	}

	var state model.MemoryState
	snapshot, err := s.store.ReadMemory(ctx, userID, sessionID)
	if err != nil {
		log.Warnw("failed to read memory snapshot", "userId", userID, "sessionId", sessionID, "error", err)
	} else if snapshot != nil {
		state = *snapshot
	}

	turns, err := s.store.ReadHistory(ctx, userID, sessionID, s.opts.HistoryLimit+1)
	if err != nil {
		log.Warnw("failed to load history, continuing without it", "userId", userID, "sessionId", sessionID, "error", err)
		turns = nil
	}
	history := make([]model.ConversationTurn, 0, len(turns))
	for _, t := range afterClear(turns, state.ClearedAt) {
		if currentTurnID != 0 && t.ID == currentTurnID {
			continue
		}
		history = append(history, t)
	}
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}

	return s.cache.Add(newActiveConversation(userID, sessionID, history, state, s.now()))
}

// generationStrategy 是降级链中的一环。
type generationStrategy struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// strategies 按优先级返回生成策略：主路径（普通或工具）之后是无历史的通用提示词。
func (s *chatService) strategies(history []model.ChatMessage, text string, caps intent.Set) []generationStrategy {
	primary := generationStrategy{
		name: StrategyPlain,
		run: func(ctx context.Context) (string, error) {
			return s.generator.Generate(ctx, AgentSystemPrompt, history, text)
		},
	}
	if !caps.Empty() {
		primary = generationStrategy{
			name: StrategyTools,
			run: func(ctx context.Context) (string, error) {
				return s.generator.GenerateWithTools(ctx, AgentSystemPrompt, history, text, caps, s.opts.MaxIterations)
			},
		}
	}
	return []generationStrategy{
		primary,
		{
			name: StrategyFallback,
			run: func(ctx context.Context) (string, error) {
				return s.generator.Generate(ctx, FallbackSystemPrompt, nil, text)
			},
		},
	}
}

// generate 依次尝试各策略，全部失败时返回固定的致歉文案。
func (s *chatService) generate(ctx context.Context, userID, sessionID string, history []model.ChatMessage, text string, caps intent.Set) (string, string) {
	for _, st := range s.strategies(history, text, caps) {
		out, err := st.run(ctx)
		if err == nil && strings.TrimSpace(out) != "" {
			return out, st.name
		}
		if err == nil {
			log.Warnw("generation returned empty reply", "strategy", st.name, "userId", userID, "sessionId", sessionID)
			continue
		}
		log.Warnw("generation failed", "strategy", st.name, "userId", userID, "sessionId", sessionID, "error", err)
	}
	log.Errorw("all generation strategies failed", "userId", userID, "sessionId", sessionID, "capabilities", caps.Strings())
	return ApologyText, StrategyApology
}

func (s *chatService) publish(ctx context.Context, event events.TurnRecorded) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTurn(ctx, event); err != nil {
		log.Warnw("failed to publish turn event", "eventId", event.EventID, "error", err)
	}
}

func (s *chatService) Stats(ctx context.Context, userID string) (model.ConversationStats, error) {
	return s.store.AggregateStats(ctx, userID)
}

// ResetMemory 丢弃派生状态。会话执行过 /clear 时保留清除时间，重置后模型看到的上下文不会多于重置前。
func (s *chatService) ResetMemory(ctx context.Context, userID, sessionID string) error {
	s.cache.Evict(userID, sessionID)

	prior, err := s.store.ReadMemory(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read memory before reset: %w", err)
	}
	if prior != nil && prior.ClearedAt != nil {
		return s.store.UpsertMemory(ctx, userID, sessionID, model.MemoryState{ClearedAt: prior.ClearedAt})
	}
	return s.store.DeleteMemory(ctx, userID, sessionID)
}
