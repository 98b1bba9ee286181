// Package kafka 把已完成的对话发布到 Kafka，供离线分析使用。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"line-smart-go/internal/config"
	"line-smart-go/pkg/events"
	"line-smart-go/pkg/log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer 发布 TurnRecorded 事件。写入是异步的，发布失败只记录日志。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者；未配置 brokers 时返回 nil。
func NewProducer(cfg config.KafkaConfig) *Producer {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warnw("failed to deliver turn events", "count", len(messages), "error", err)
			}
		},
	}
	log.Infow("Kafka 生产者初始化成功", "brokers", brokers, "topic", cfg.Topic)
	return &Producer{writer: w}
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// encodeTurn 以 sessionId 作为消息 key，同一会话的事件落在同一分区。
func encodeTurn(event events.TurnRecorded) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal turn event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(events.TypeTurnRecorded)},
		},
	}, nil
}

// PublishTurn 发送一个 TurnRecorded 事件。
func (p *Producer) PublishTurn(ctx context.Context, event events.TurnRecorded) error {
	msg, err := encodeTurn(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	return nil
}

// Close 刷新尚未发送的消息并关闭连接。
func (p *Producer) Close() error {
	return p.writer.Close()
}
