package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/booking/domain"
)

// messageWriter 是 *kafka.Writer 的子集，方便测试替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationKafkaAdapter 实现了 port.OutcomeNotifier 接口，消息 key 为幂等 key。
type NotificationKafkaAdapter struct {
	writer messageWriter
}

func NewNotificationKafkaAdapter(brokers []string, topic string) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: mq.NewKafkaWriter(brokers, topic)}
}

func (a *NotificationKafkaAdapter) PublishOutcome(ctx context.Context, event domain.BookingOutcomeEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal booking outcome: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.IdempotencyKey), Value: eventBytes}
	mq.InjectTraceContext(ctx, &msg.Headers)
	return a.writer.WriteMessages(ctx, msg)
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
