package service

import (
	"context"
	"errors"
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"line-smart-go/internal/repository"
	"line-smart-go/pkg/events"
	"line-smart-go/pkg/llm"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
)

var errBackendDown = errors.New("backend down")

// memoryRepo 是 repository.ConversationRepository 的内存实现，可注入失败。
type memoryRepo struct {
	mu         sync.Mutex
	nextID     uint
	turns      []model.ConversationTurn
	memory     map[string]model.MemorySnapshot
	failAppend bool
	failRead   bool
	closed     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{memory: map[string]model.MemorySnapshot{}}
}

func (r *memoryRepo) Name() string { return "memory" }

func (r *memoryRepo) AppendTurn(_ context.Context, turn *model.ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend {
		return &repository.PersistenceError{Backend: "memory", Op: "append turn", Err: errBackendDown}
	}
	r.nextID++
	turn.ID = r.nextID
	r.turns = append(r.turns, *turn)
	return nil
}

func (r *memoryRepo) ReadHistory(_ context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRead {
		return nil, &repository.PersistenceError{Backend: "memory", Op: "read history", Err: errBackendDown}
	}
	var out []model.ConversationTurn
	for _, t := range r.turns {
		if t.UserID == userID && t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memoryRepo) UpsertMemory(_ context.Context, userID, sessionID string, blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[userID+"|"+sessionID] = model.MemorySnapshot{
		UserID: userID, SessionID: sessionID, MemoryData: datatypes.JSON(blob), UpdatedAt: time.Now(),
	}
	return nil
}

func (r *memoryRepo) ReadMemory(_ context.Context, userID, sessionID string) (*model.MemorySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRead {
		return nil, &repository.PersistenceError{Backend: "memory", Op: "read memory", Err: errBackendDown}
	}
	snap, ok := r.memory[userID+"|"+sessionID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (r *memoryRepo) DeleteMemory(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.memory, userID+"|"+sessionID)
	return nil
}

func (r *memoryRepo) AggregateStats(_ context.Context, userID string) (model.ConversationStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := map[string]struct{}{}
	var total int64
	for _, t := range r.turns {
		if t.UserID == userID {
			sessions[t.SessionID] = struct{}{}
			total++
		}
	}
	return model.ConversationStats{DistinctSessionCount: int64(len(sessions)), TotalTurnCount: total}, nil
}

func (r *memoryRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *memoryRepo) rows() []model.ConversationTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ConversationTurn, len(r.turns))
	copy(out, r.turns)
	return out
}

// generateCall 记录一次生成调用的参数。
type generateCall struct {
	tools         bool
	systemPrompt  string
	history       []model.ChatMessage
	userText      string
	caps          intent.Set
	maxIterations int
}

// fakeGenerator 按调用路径返回预置结果。
type fakeGenerator struct {
	mu        sync.Mutex
	calls     []generateCall
	plain     func(call generateCall) (string, error)
	withTools func(call generateCall) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, systemPrompt string, history []model.ChatMessage, userText string) (string, error) {
	call := generateCall{systemPrompt: systemPrompt, history: history, userText: userText}
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
	if g.plain == nil {
		return "reply: " + userText, nil
	}
	return g.plain(call)
}

func (g *fakeGenerator) GenerateWithTools(_ context.Context, systemPrompt string, history []model.ChatMessage, userText string, caps intent.Set, maxIterations int) (string, error) {
	call := generateCall{tools: true, systemPrompt: systemPrompt, history: history, userText: userText, caps: caps, maxIterations: maxIterations}
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
	if g.withTools == nil {
		return "tool reply: " + userText, nil
	}
	return g.withTools(call)
}

func (g *fakeGenerator) recorded() []generateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]generateCall, len(g.calls))
	copy(out, g.calls)
	return out
}

func failGeneration(path string) func(generateCall) (string, error) {
	return func(generateCall) (string, error) {
		return "", &llm.GenerationError{Path: path, Err: errors.New("quota exceeded")}
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.TurnRecorded
	err    error
}

func (p *fakePublisher) PublishTurn(_ context.Context, event events.TurnRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
