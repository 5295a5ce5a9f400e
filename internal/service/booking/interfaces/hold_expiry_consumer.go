package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

// HoldExpirer 消费者对占座管理的依赖
type HoldExpirer interface {
	ExpireHold(ctx context.Context, holdID string) (bool, error)
	GetHold(ctx context.Context, holdID string) (domain.Hold, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HoldExpiryConsumer 消费延迟调度器转发过来的过期检查，到期的 hold 立即过期，
// 未到期的（TTL 超过最长延迟级别）重新投递。
type HoldExpiryConsumer struct {
	reader    messageReader
	holds     HoldExpirer
	scheduler port.ExpiryScheduler
	tracer    trace.Tracer
}

func NewHoldExpiryConsumer(brokers []string, topic, groupID string, holds HoldExpirer, scheduler port.ExpiryScheduler) *HoldExpiryConsumer {
	return &HoldExpiryConsumer{
		reader:    mq.NewKafkaReader(brokers, topic, groupID),
		holds:     holds,
		scheduler: scheduler,
		tracer:    otel.Tracer(serviceName),
	}
}

// Start 阻塞消费直到 ctx 结束
func (c *HoldExpiryConsumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	logger.Ctx(ctx).Info().Msg("Hold expiry consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("Hold expiry consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch message, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		c.processMessage(mq.ExtractTraceContext(ctx, msg.Headers), msg)

		// 处理失败也提交，定时清扫兜底
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit message")
		}
	}
}

func (c *HoldExpiryConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	ctx, span := c.tracer.Start(ctx, "booking-service.HoldExpiryCheck")
	defer span.End()

	var event domain.HoldExpiryCheckEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("Failed to unmarshal hold expiry check, skipping")
		return
	}
	span.SetAttributes(attribute.String("hold.id", event.HoldID))

	expired, err := c.holds.ExpireHold(ctx, event.HoldID)
	if err != nil {
		if !errors.Is(err, domain.ErrHoldNotFound) {
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("hold_id", event.HoldID).Msg("Failed to expire hold")
		}
		return
	}
	if expired {
		span.AddEvent("Hold expired")
		return
	}

	hold, err := c.holds.GetHold(ctx, event.HoldID)
	if err != nil || hold.State != domain.HoldActive || c.scheduler == nil {
		return
	}
	// 还没到期，再排一次
	if err := c.scheduler.ScheduleHoldExpiry(ctx, hold); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("hold_id", hold.ID).Msg("Failed to reschedule hold expiry check")
	}
}
