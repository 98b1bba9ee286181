package repository

import (
	"context"
	"errors"
	"line-smart-go/internal/model"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backendSQL = "sql"

// gormConversationRepository 是 ConversationRepository 接口的 GORM 实现，
// 适用于 MySQL、Postgres 等关系型数据库。
type gormConversationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormConversationRepository 创建一个新的 SQL 后端。返回的实例接管 db 的生命周期。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db, now: time.Now}
}

// Migrate 创建 conversations 与 conversation_memory 两张表（已存在时只补齐列和索引）。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.ConversationTurn{}, &model.MemorySnapshot{})
}

func (r *gormConversationRepository) Name() string {
	return backendSQL
}

// AppendTurn 在 conversations 表中插入一行。
func (r *gormConversationRepository) AppendTurn(ctx context.Context, turn *model.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.now().UTC()
	}
	return wrapErr(backendSQL, "append turn", r.db.WithContext(ctx).Create(turn).Error)
}

// ReadHistory 先按时间倒序取最近 limit 条，再翻转为升序。
func (r *gormConversationRepository) ReadHistory(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		return []model.ConversationTurn{}, nil
	}
	var turns []model.ConversationTurn
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, wrapErr(backendSQL, "read history", err)
	}
	reverseTurns(turns)
	return turns, nil
}

// UpsertMemory 依赖 (user_id, session_id) 唯一索引实现覆盖写。
func (r *gormConversationRepository) UpsertMemory(ctx context.Context, userID, sessionID string, blob []byte) error {
	snapshot := model.MemorySnapshot{
		UserID:     userID,
		SessionID:  sessionID,
		MemoryData: datatypes.JSON(blob),
		UpdatedAt:  r.now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"memory_data", "updated_at"}),
	}).Create(&snapshot).Error
	return wrapErr(backendSQL, "upsert memory", err)
}

// ReadMemory 读取记忆快照，记录不存在时返回 nil。
func (r *gormConversationRepository) ReadMemory(ctx context.Context, userID, sessionID string) (*model.MemorySnapshot, error) {
	var snapshot model.MemorySnapshot
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(backendSQL, "read memory", err)
	}
	return &snapshot, nil
}

func (r *gormConversationRepository) DeleteMemory(ctx context.Context, userID, sessionID string) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&model.MemorySnapshot{}).Error
	return wrapErr(backendSQL, "delete memory", err)
}

// AggregateStats 统计用户的不同 session 数与记录总数。
func (r *gormConversationRepository) AggregateStats(ctx context.Context, userID string) (model.ConversationStats, error) {
	var row struct {
		Sessions int64
		Turns    int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.ConversationTurn{}).
		Select("COUNT(DISTINCT session_id) AS sessions, COUNT(*) AS turns").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return model.ConversationStats{}, wrapErr(backendSQL, "aggregate stats", err)
	}
	return model.ConversationStats{DistinctSessionCount: row.Sessions, TotalTurnCount: row.Turns}, nil
}

func (r *gormConversationRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return wrapErr(backendSQL, "close", err)
	}
	return wrapErr(backendSQL, "close", sqlDB.Close())
}
