package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/booking/domain"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutcomeConsumer 消费 booking-service 发出的 saga 结果并交给 Hub 推送
type OutcomeConsumer struct {
	reader messageReader
	hub    *Hub
	tracer trace.Tracer
}

// NewOutcomeConsumer 每个网关节点使用独立的消费组，保证每个节点都能收到全部结果
func NewOutcomeConsumer(brokers []string, topic, groupID string, hub *Hub) *OutcomeConsumer {
	return &OutcomeConsumer{
		reader: mq.NewKafkaReader(brokers, topic, groupID),
		hub:    hub,
		tracer: otel.Tracer("push-gateway"),
	}
}

func (c *OutcomeConsumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch outcome, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		c.handle(mq.ExtractTraceContext(ctx, msg.Headers), msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit outcome")
		}
	}
}

func (c *OutcomeConsumer) handle(ctx context.Context, msg kafka.Message) {
	ctx, span := c.tracer.Start(ctx, "push-gateway.DeliverOutcome")
	defer span.End()

	var event domain.BookingOutcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.IdempotencyKey == "" {
		logger.Ctx(ctx).Error().Err(err).Msg("Malformed booking outcome, skipping")
		return
	}
	span.SetAttributes(
		attribute.String("idempotency.key", event.IdempotencyKey),
		attribute.String("saga.status", event.Status),
	)
	if err := c.hub.Deliver(ctx, event.IdempotencyKey, msg.Value); err != nil {
		span.RecordError(err)
	}
}
