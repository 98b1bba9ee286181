// Package events 定义发布到 Kafka 的事件结构。
package events

import "time"

// TypeTurnRecorded 是 TurnRecorded 事件的类型标识，写在消息头中。
const TypeTurnRecorded = "turn.recorded"

// TurnRecorded 在每次完整的问答后发布一次，指令不会产生事件。
type TurnRecorded struct {
	EventID      string    `json:"eventId"`
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	Capabilities []string  `json:"capabilities"`
	Strategy     string    `json:"strategy"`
	Fallback     bool      `json:"fallback"`
	Persisted    bool      `json:"persisted"`
	OccurredAt   time.Time `json:"occurredAt"`
}
