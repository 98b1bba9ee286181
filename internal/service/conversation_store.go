// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"line-smart-go/internal/model"
	"line-smart-go/internal/repository"
	"line-smart-go/pkg/log"
	"sync"
)

// ConversationStore 包装唯一的持久化后端，并实现"可选持久化"策略：
// 未配置后端时写操作为 no-op（记录告警），读操作返回空结果。
type ConversationStore interface {
	// Backend 返回当前后端名称，未配置时为空字符串。
	Backend() string
	Enabled() bool
	AppendTurn(ctx context.Context, turn *model.ConversationTurn) error
	ReadHistory(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error)
	UpsertMemory(ctx context.Context, userID, sessionID string, state model.MemoryState) error
	ReadMemory(ctx context.Context, userID, sessionID string) (*model.MemoryState, error)
	DeleteMemory(ctx context.Context, userID, sessionID string) error
	AggregateStats(ctx context.Context, userID string) (model.ConversationStats, error)
	Close() error
}

type conversationStore struct {
	repo      repository.ConversationRepository
	closeOnce sync.Once
	closeErr  error
}

// NewConversationStore 创建一个 ConversationStore。repo 为 nil 表示未配置持久化。
func NewConversationStore(repo repository.ConversationRepository) ConversationStore {
	return &conversationStore{repo: repo}
}

func (s *conversationStore) Backend() string {
	if s.repo == nil {
		return ""
	}
	return s.repo.Name()
}

func (s *conversationStore) Enabled() bool {
	return s.repo != nil
}

func (s *conversationStore) skip(op string) {
	log.Warnw("persistence skipped: no backend configured", "op", op)
}

func (s *conversationStore) AppendTurn(ctx context.Context, turn *model.ConversationTurn) error {
	if s.repo == nil {
		s.skip("append turn")
		return nil
	}
	return s.repo.AppendTurn(ctx, turn)
}

func (s *conversationStore) ReadHistory(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if s.repo == nil {
		return []model.ConversationTurn{}, nil
	}
	return s.repo.ReadHistory(ctx, userID, sessionID, limit)
}

// UpsertMemory 把 MemoryState 序列化为 JSON 后写入快照。
func (s *conversationStore) UpsertMemory(ctx context.Context, userID, sessionID string, state model.MemoryState) error {
	if s.repo == nil {
		s.skip("upsert memory")
		return nil
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal memory state: %w", err)
	}
	return s.repo.UpsertMemory(ctx, userID, sessionID, blob)
}

// ReadMemory 读取并解析快照；快照不存在时返回 nil, nil。
func (s *conversationStore) ReadMemory(ctx context.Context, userID, sessionID string) (*model.MemoryState, error) {
	if s.repo == nil {
		return nil, nil
	}
	snapshot, err := s.repo.ReadMemory(ctx, userID, sessionID)
	if err != nil || snapshot == nil {
		return nil, err
	}
	var state model.MemoryState
	if len(snapshot.MemoryData) > 0 {
		if err := json.Unmarshal(snapshot.MemoryData, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory state: %w", err)
		}
	}
	return &state, nil
}

func (s *conversationStore) DeleteMemory(ctx context.Context, userID, sessionID string) error {
	if s.repo == nil {
		s.skip("delete memory")
		return nil
	}
	return s.repo.DeleteMemory(ctx, userID, sessionID)
}

func (s *conversationStore) AggregateStats(ctx context.Context, userID string) (model.ConversationStats, error) {
	if s.repo == nil {
		return model.ConversationStats{}, nil
	}
	return s.repo.AggregateStats(ctx, userID)
}

// Close 释放后端资源，可重复调用。
func (s *conversationStore) Close() error {
	if s.repo == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.repo.Close()
	})
	return s.closeErr
}
