package service

import (
	"context"
	"fmt"
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"line-smart-go/internal/session"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	repo      *memoryRepo
	store     ConversationStore
	cache     *ActiveCache
	gen       *fakeGenerator
	publisher *fakePublisher
	clock     *fakeClock
	svc       *chatService
}

func newChatFixture(t *testing.T, withBackend bool, opts ChatOptions) *chatFixture {
	t.Helper()
	f := &chatFixture{
		gen:       &fakeGenerator{},
		publisher: &fakePublisher{},
		clock:     newFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	if withBackend {
		f.repo = newMemoryRepo()
		f.store = NewConversationStore(f.repo)
	} else {
		f.store = NewConversationStore(nil)
	}
	f.rebuild(opts)
	return f
}

// rebuild 模拟进程重启：保留持久化层，丢弃进程内缓存。
func (f *chatFixture) rebuild(opts ChatOptions) {
	f.cache = newActiveCache(30*time.Minute, f.clock.Now)
	dispatcher := newCommandDispatcher(f.store, f.cache, f.gen, 20, f.clock.Now)
	svc := NewChatService(f.store, f.cache, intent.NewRouter(intent.DefaultRules), dispatcher, f.gen,
		session.NewDeriver(time.UTC), f.publisher, opts).(*chatService)
	svc.now = f.clock.Now
	f.svc = svc
}

func (f *chatFixture) send(userID, text string) string {
	reply := f.svc.ProcessMessage(context.Background(), userID, text, f.clock.Now())
	f.clock.Advance(time.Second)
	return reply
}

func TestProcessMessage_ToolsCommandThenWeatherQuestion(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	assert.Equal(t, ToolsText, f.send("U1", "/tools"))
	assert.Empty(t, f.repo.rows())

	at := f.clock.Now()
	reply := f.send("U1", "台北天氣如何？")
	assert.Equal(t, "tool reply: 台北天氣如何？", reply)

	calls := f.gen.recorded()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].tools)
	assert.Equal(t, intent.Set{intent.Weather}, calls[0].caps)
	assert.Equal(t, 3, calls[0].maxIterations)
	assert.Equal(t, AgentSystemPrompt, calls[0].systemPrompt)

	rows := f.repo.rows()
	require.Len(t, rows, 2)
	key := session.DeriveKey("U1", at)
	assert.Equal(t, "U1_2024-03-01", key)
	for _, r := range rows {
		assert.Equal(t, key, r.SessionID)
		assert.Equal(t, "U1", r.UserID)
	}
	assert.Equal(t, model.MessageTypeUser, rows[0].MessageType)
	assert.Nil(t, rows[0].Response)
	assert.Equal(t, model.MessageTypeAssistant, rows[1].MessageType)
	require.NotNil(t, rows[1].Response)
	assert.Equal(t, reply, *rows[1].Response)

	state, err := f.store.ReadMemory(context.Background(), "U1", key)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.TurnCount)
	assert.Equal(t, []string{"weather"}, state.LastCapabilities)
}

func TestProcessMessage_CommandsWriteNothing(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	for _, cmd := range []string{"/help", "/HELP ", "/tools"} {
		f.send("U1", cmd)
	}
	assert.Empty(t, f.repo.rows())
	assert.Empty(t, f.gen.recorded())
	assert.Empty(t, f.publisher.events)
}

func TestProcessMessage_WhitespaceLedCommandIsChat(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	reply := f.send("U1", " /help")
	assert.Equal(t, "reply:  /help", reply)
	require.Len(t, f.gen.recorded(), 1)
	assert.Len(t, f.repo.rows(), 2)
}

func TestProcessMessage_PlainPathWithoutCapabilities(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	assert.Equal(t, "reply: 你好", f.send("U1", "你好"))
	calls := f.gen.recorded()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].tools)
	assert.Equal(t, AgentSystemPrompt, calls[0].systemPrompt)
	assert.Empty(t, calls[0].history)
}

func TestProcessMessage_HistoryExcludesCurrentMessage(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	f.send("U1", "你好")
	f.send("U1", "再見")

	calls := f.gen.recorded()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].history, 2)
	assert.Equal(t, model.ChatMessage{Role: model.RoleUser, Content: "你好", Timestamp: calls[1].history[0].Timestamp}, calls[1].history[0])
	assert.Equal(t, model.RoleAssistant, calls[1].history[1].Role)
	assert.Equal(t, "reply: 你好", calls[1].history[1].Content)
	assert.Equal(t, "再見", calls[1].userText)
}

func TestProcessMessage_HydratesFromStoreAfterRestart(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{HistoryLimit: 2})

	f.send("U1", "第一題")
	f.send("U1", "第二題")
	f.rebuild(ChatOptions{HistoryLimit: 2})
	f.send("U1", "第三題")

	calls := f.gen.recorded()
	require.Len(t, calls, 3)
	history := calls[2].history
	require.Len(t, history, 2)
	assert.Equal(t, "第二題", history[0].Content)
	assert.Equal(t, "reply: 第二題", history[1].Content)
	for _, m := range history {
		assert.NotEqual(t, "第三題", m.Content)
	}
}

func TestProcessMessage_ClearHidesEarlierTurns(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	f.send("U1", "舊話題")
	assert.Equal(t, ClearedText, f.send("U1", "/clear"))
	f.send("U1", "新話題")

	calls := f.gen.recorded()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[1].history)
	// 持久化的对话日志不受 /clear 影响
	assert.Len(t, f.repo.rows(), 4)

	f.rebuild(ChatOptions{})
	f.send("U1", "再一題")
	calls = f.gen.recorded()
	require.Len(t, calls, 3)
	require.Len(t, calls[2].history, 2)
	assert.Equal(t, "新話題", calls[2].history[0].Content)
}

func TestProcessMessage_FallbackAfterPrimaryFailure(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.gen.withTools = failGeneration("tools")

	f.send("U1", "你好")
	reply := f.send("U1", "身高170 體重65 BMI多少")
	assert.Equal(t, "reply: 身高170 體重65 BMI多少", reply)

	calls := f.gen.recorded()
	require.Len(t, calls, 3)
	assert.True(t, calls[1].tools)
	assert.Equal(t, intent.Set{intent.BodyMetrics}, calls[1].caps)
	assert.False(t, calls[2].tools)
	assert.Equal(t, FallbackSystemPrompt, calls[2].systemPrompt)
	assert.Empty(t, calls[2].history)

	require.Len(t, f.publisher.events, 2)
	last := f.publisher.events[1]
	assert.Equal(t, StrategyFallback, last.Strategy)
	assert.True(t, last.Fallback)
	assert.Len(t, f.repo.rows(), 4)
}

func TestProcessMessage_EmptyReplyFallsBack(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.gen.plain = func(call generateCall) (string, error) {
		if call.systemPrompt == AgentSystemPrompt {
			return "   ", nil
		}
		return "fallback ok", nil
	}

	assert.Equal(t, "fallback ok", f.send("U1", "你好"))
}

func TestProcessMessage_AllStrategiesFail(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.gen.plain = failGeneration("plain")
	f.gen.withTools = failGeneration("tools")

	reply := f.send("U1", "台北天氣如何？")
	assert.Equal(t, ApologyText, reply)

	rows := f.repo.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, model.MessageTypeUser, rows[0].MessageType)
	assert.Empty(t, f.publisher.events)
}

func TestProcessMessage_UnansweredMessageStaysInWorkingSet(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.gen.plain = failGeneration("plain")
	assert.Equal(t, ApologyText, f.send("U1", "第一題"))

	f.gen.plain = nil
	f.send("U1", "第二題")
	calls := f.gen.recorded()
	cached := calls[len(calls)-1].history
	require.Len(t, cached, 1)
	assert.Equal(t, "第一題", cached[0].Content)

	// 重启后从日志重建的历史与缓存中的一致
	f.rebuild(ChatOptions{})
	f.send("U1", "第三題")
	calls = f.gen.recorded()
	hydrated := calls[len(calls)-1].history
	require.Len(t, hydrated, 3)
	assert.Equal(t, "第一題", hydrated[0].Content)
	assert.Equal(t, "第二題", hydrated[1].Content)
}

func TestProcessMessage_WithoutBackend(t *testing.T) {
	f := newChatFixture(t, false, ChatOptions{})

	assert.Equal(t, "reply: 你好", f.send("U1", "你好"))
	f.send("U1", "還在嗎")

	calls := f.gen.recorded()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].history, 2)

	stats, err := f.svc.Stats(context.Background(), "U1")
	require.NoError(t, err)
	assert.Zero(t, stats)

	require.Len(t, f.publisher.events, 2)
	assert.False(t, f.publisher.events[0].Persisted)
}

func TestProcessMessage_PersistenceFailureDoesNotAbort(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.repo.failAppend = true
	f.repo.failRead = true

	assert.Equal(t, "reply: 你好", f.send("U1", "你好"))
	require.Len(t, f.publisher.events, 1)
	assert.False(t, f.publisher.events[0].Persisted)
}

func TestProcessMessage_PublishFailureIsIgnored(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.publisher.err = fmt.Errorf("broker unavailable")

	assert.Equal(t, "reply: 你好", f.send("U1", "你好"))
	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, StrategyPlain, event.Strategy)
	assert.True(t, event.Persisted)
}

func TestProcessMessage_SessionsRollOverByDate(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})

	f.send("U1", "今天")
	f.clock.Advance(24 * time.Hour)
	f.send("U1", "明天")

	calls := f.gen.recorded()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[1].history)

	stats, err := f.svc.Stats(context.Background(), "U1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.DistinctSessionCount)
	assert.EqualValues(t, 4, stats.TotalTurnCount)
}

func TestProcessMessage_SessionLockSerializesSameSession(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{SessionLock: true, HistoryLimit: 100})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.svc.ProcessMessage(context.Background(), "U1", fmt.Sprintf("msg %d", i), f.clock.Now())
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.repo.rows(), 16)
	assert.Zero(t, f.svc.locks.size())
	conv, ok := f.cache.Get("U1", f.svc.SessionKey("U1", f.clock.Now()))
	require.True(t, ok)
	assert.Equal(t, 8, conv.State().TurnCount)
}

func TestResetMemory(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.send("U1", "你好")
	key := f.svc.SessionKey("U1", f.clock.Now())

	require.NoError(t, f.svc.ResetMemory(context.Background(), "U1", key))

	_, ok := f.cache.Get("U1", key)
	assert.False(t, ok)
	state, err := f.store.ReadMemory(context.Background(), "U1", key)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Len(t, f.repo.rows(), 2)
}

func TestResetMemory_KeepsClearMarker(t *testing.T) {
	f := newChatFixture(t, true, ChatOptions{})
	f.send("U1", "舊話題")
	assert.Equal(t, ClearedText, f.send("U1", "/clear"))
	key := f.svc.SessionKey("U1", f.clock.Now())

	require.NoError(t, f.svc.ResetMemory(context.Background(), "U1", key))

	state, err := f.store.ReadMemory(context.Background(), "U1", key)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.ClearedAt)
	assert.Zero(t, state.TurnCount)

	f.send("U1", "新話題")
	calls := f.gen.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "新話題", calls[1].userText)
	assert.Empty(t, calls[1].history)
}
