// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"line-smart-go/internal/model"
)

// ConversationRepository 定义了对话持久化后端的统一契约。
// SQL 与 PostgREST 两种实现必须可以互换，调用方无需感知差异：
//   - 查不到数据用 nil / 空切片表示，不作为错误；
//   - ReadHistory 返回最近的 limit 条，按时间升序排列；
//   - 实现必须支持并发调用。
type ConversationRepository interface {
	// Name 返回后端名称，用于日志与健康检查。
	Name() string
	// AppendTurn 追加一条对话记录，成功后回填 turn.ID。
	AppendTurn(ctx context.Context, turn *model.ConversationTurn) error
	// ReadHistory 读取某个会话最近 limit 条记录（时间升序）。
	ReadHistory(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error)
	// UpsertMemory 写入或覆盖会话的记忆快照，并刷新 updated_at。
	UpsertMemory(ctx context.Context, userID, sessionID string, blob []byte) error
	// ReadMemory 读取会话的记忆快照，不存在时返回 nil, nil。
	ReadMemory(ctx context.Context, userID, sessionID string) (*model.MemorySnapshot, error)
	// DeleteMemory 删除会话的记忆快照，不存在时不报错。
	DeleteMemory(ctx context.Context, userID, sessionID string) error
	// AggregateStats 统计用户的会话数与记录总数。
	AggregateStats(ctx context.Context, userID string) (model.ConversationStats, error)
	// Close 释放后端持有的资源。
	Close() error
}

// ErrNotConfigured 表示当前进程没有启用任何持久化后端。
var ErrNotConfigured = errors.New("no persistence backend configured")

// PersistenceError 包装了后端 I/O 失败，调用方应记录告警后继续。
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("persistence[%s] %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Backend: backend, Op: op, Err: err}
}

// reverseTurns 把按时间倒序查询的结果翻转为升序。
func reverseTurns(turns []model.ConversationTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
