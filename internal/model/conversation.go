// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// MessageType 标记一行对话记录由哪一方产生。
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// ConversationTurn 对应 conversations 表中的一行。
// 用户一侧写入时 Response 为空；助手一侧同时保存原始提问与回复。
// 记录一经写入不再修改，只允许追加和批量删除。
type ConversationTurn struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"id,omitempty"`
	UserID      string      `gorm:"type:varchar(100);not null;index:idx_conversations_user_session,priority:1" json:"user_id"`
	SessionID   string      `gorm:"type:varchar(100);not null;index:idx_conversations_user_session,priority:2" json:"session_id"`
	Message     string      `gorm:"type:text;not null" json:"message"`
	Response    *string     `gorm:"type:text" json:"response"`
	MessageType MessageType `gorm:"type:varchar(20);not null;default:user" json:"message_type"`
	Timestamp   time.Time   `gorm:"column:timestamp;not null;index" json:"timestamp"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationTurn) TableName() string {
	return "conversations"
}

// Text 返回该行在对话上下文中的文本：用户行取提问，助手行取回复。
func (t ConversationTurn) Text() string {
	if t.MessageType == MessageTypeAssistant && t.Response != nil {
		return *t.Response
	}
	return t.Message
}

// MemorySnapshot 对应 conversation_memory 表，每个 (user_id, session_id) 至多一行。
// MemoryData 对后端而言是不透明的 JSON。
type MemorySnapshot struct {
	ID         uint           `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID     string         `gorm:"type:varchar(100);not null;uniqueIndex:uk_conversation_memory_user_session,priority:1" json:"user_id"`
	SessionID  string         `gorm:"type:varchar(100);not null;uniqueIndex:uk_conversation_memory_user_session,priority:2" json:"session_id"`
	MemoryData datatypes.JSON `gorm:"not null" json:"memory_data"`
	UpdatedAt  time.Time      `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MemorySnapshot) TableName() string {
	return "conversation_memory"
}

// MemoryState 是写入 MemorySnapshot 的会话派生状态。
type MemoryState struct {
	TurnCount        int        `json:"turnCount"`
	LastCapabilities []string   `json:"lastCapabilities,omitempty"`
	Summary          string     `json:"summary,omitempty"`
	ClearedAt        *time.Time `json:"clearedAt,omitempty"`
	LastActiveAt     time.Time  `json:"lastActiveAt"`
}

// ConversationStats 是单个用户的聚合统计。
type ConversationStats struct {
	DistinctSessionCount int64 `json:"totalConversations"`
	TotalTurnCount       int64 `json:"totalMessages"`
}

// ChatMessage 是交给生成能力的一条角色消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
