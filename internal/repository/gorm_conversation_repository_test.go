package repository

import (
	"context"
	"fmt"
	"line-smart-go/internal/model"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGormRepo(t *testing.T) *gormConversationRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	repo := &gormConversationRepository{db: db, now: time.Now}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func strPtr(s string) *string { return &s }

func TestGormRepository_ReadHistoryReturnsMostRecentAscending(t *testing.T) {
	repo := newTestGormRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		turn := &model.ConversationTurn{
			UserID:      "U1",
			SessionID:   "U1_2024-03-01",
			Message:     fmt.Sprintf("m%d", i),
			MessageType: model.MessageTypeUser,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.AppendTurn(ctx, turn))
		require.NotZero(t, turn.ID)
	}
	// 其他会话的数据不应混入
	require.NoError(t, repo.AppendTurn(ctx, &model.ConversationTurn{
		UserID: "U1", SessionID: "U1_2024-03-02", Message: "other", MessageType: model.MessageTypeUser, Timestamp: base,
	}))

	turns, err := repo.ReadHistory(ctx, "U1", "U1_2024-03-01", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "m2", turns[0].Message)
	assert.Equal(t, "m3", turns[1].Message)
	assert.Equal(t, "m4", turns[2].Message)
}

func TestGormRepository_ReadHistoryBreaksTimestampTiesByID(t *testing.T) {
	repo := newTestGormRepo(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AppendTurn(ctx, &model.ConversationTurn{
		UserID: "U1", SessionID: "S", Message: "q", MessageType: model.MessageTypeUser, Timestamp: ts,
	}))
	require.NoError(t, repo.AppendTurn(ctx, &model.ConversationTurn{
		UserID: "U1", SessionID: "S", Message: "q", Response: strPtr("a"), MessageType: model.MessageTypeAssistant, Timestamp: ts,
	}))

	turns, err := repo.ReadHistory(ctx, "U1", "S", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.MessageTypeUser, turns[0].MessageType)
	assert.Equal(t, model.MessageTypeAssistant, turns[1].MessageType)
	assert.Equal(t, "a", turns[1].Text())
}

func TestGormRepository_ReadHistoryEmpty(t *testing.T) {
	repo := newTestGormRepo(t)

	turns, err := repo.ReadHistory(context.Background(), "nobody", "none", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = repo.ReadHistory(context.Background(), "nobody", "none", 0)
	require.NoError(t, err)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
}

func TestGormRepository_MemoryLastWriteWins(t *testing.T) {
	repo := newTestGormRepo(t)
	ctx := context.Background()

	snap, err := repo.ReadMemory(ctx, "U1", "S")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, repo.UpsertMemory(ctx, "U1", "S", []byte(`{"turnCount":1}`)))
	require.NoError(t, repo.UpsertMemory(ctx, "U1", "S", []byte(`{"turnCount":2}`)))

	snap, err = repo.ReadMemory(ctx, "U1", "S")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.JSONEq(t, `{"turnCount":2}`, string(snap.MemoryData))
	assert.False(t, snap.UpdatedAt.IsZero())

	var count int64
	require.NoError(t, repo.db.Model(&model.MemorySnapshot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGormRepository_DeleteMemory(t *testing.T) {
	repo := newTestGormRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.DeleteMemory(ctx, "U1", "S"))
	require.NoError(t, repo.UpsertMemory(ctx, "U1", "S", []byte(`{}`)))
	require.NoError(t, repo.DeleteMemory(ctx, "U1", "S"))

	snap, err := repo.ReadMemory(ctx, "U1", "S")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestGormRepository_AggregateStats(t *testing.T) {
	repo := newTestGormRepo(t)
	ctx := context.Background()

	stats, err := repo.AggregateStats(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, stats.DistinctSessionCount)
	assert.Zero(t, stats.TotalTurnCount)

	for _, s := range []string{"S1", "S1", "S2"} {
		require.NoError(t, repo.AppendTurn(ctx, &model.ConversationTurn{
			UserID: "U1", SessionID: s, Message: "hi", MessageType: model.MessageTypeUser,
		}))
	}
	require.NoError(t, repo.AppendTurn(ctx, &model.ConversationTurn{
		UserID: "U2", SessionID: "S9", Message: "hi", MessageType: model.MessageTypeUser,
	}))

	stats, err = repo.AggregateStats(ctx, "U1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.DistinctSessionCount)
	assert.EqualValues(t, 3, stats.TotalTurnCount)
}

func TestGormRepository_ErrorsAreWrapped(t *testing.T) {
	repo := newTestGormRepo(t)
	require.NoError(t, repo.Close())

	_, err := repo.ReadHistory(context.Background(), "U1", "S", 5)
	require.Error(t, err)
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "sql", pErr.Backend)
	assert.Equal(t, "read history", pErr.Op)
}
