package service

import (
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveCache_SlidingExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	c := newActiveCache(30*time.Minute, clock.Now)

	conv := c.Add(newActiveConversation("U1", "S", nil, model.MemoryState{}, clock.Now()))
	assert.Equal(t, clock.Now().Add(30*time.Minute), conv.ExpiresAt())

	// 每次访问都会续期
	clock.Advance(20 * time.Minute)
	got, ok := c.Get("U1", "S")
	require.True(t, ok)
	assert.Same(t, conv, got)

	clock.Advance(20 * time.Minute)
	_, ok = c.Get("U1", "S")
	require.True(t, ok)

	// 超过一个完整窗口未访问即过期
	clock.Advance(30 * time.Minute)
	_, ok = c.Get("U1", "S")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestActiveCache_AddKeepsLiveEntry(t *testing.T) {
	clock := newFakeClock(time.Now())
	c := newActiveCache(time.Minute, clock.Now)

	first := c.Add(newActiveConversation("U1", "S", nil, model.MemoryState{}, clock.Now()))
	second := c.Add(newActiveConversation("U1", "S", nil, model.MemoryState{TurnCount: 9}, clock.Now()))
	assert.Same(t, first, second)

	c.Evict("U1", "S")
	c.Evict("U1", "S")
	_, ok := c.Get("U1", "S")
	assert.False(t, ok)
}

func TestActiveConversation_RecordTrimsHistory(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	conv := newActiveConversation("U1", "S", nil, model.MemoryState{}, now)

	for i := 0; i < 3; i++ {
		reply := "a"
		state := conv.Record(
			model.ConversationTurn{Message: "q", MessageType: model.MessageTypeUser},
			model.ConversationTurn{Message: "q", Response: &reply, MessageType: model.MessageTypeAssistant},
			intent.Set{intent.Weather}, 4, now,
		)
		assert.Equal(t, i+1, state.TurnCount)
	}

	assert.Len(t, conv.History(), 4)
	msgs := conv.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "q", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "a", msgs[1].Content)
	assert.Equal(t, []string{"weather"}, conv.State().LastCapabilities)
}
