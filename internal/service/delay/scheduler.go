package delay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/mq"
)

const serviceName = "delay-scheduler"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Scheduler 负责一个延迟级别：按顺序取出延迟主题里的消息，到期后投递到 real-topic。
// 同一延迟主题内的消息到期时间基本有序，队头未到期时直接等待，不再往后读。
type Scheduler struct {
	level     mq.DelayLevel
	reader    messageReader
	newWriter func(topic string) messageWriter
	now       func() time.Time
	retry     time.Duration
	tracer    trace.Tracer

	// 为每个真实主题维护一个 writer
	mu      sync.Mutex
	writers map[string]messageWriter // key: realTopic
}

func NewScheduler(brokers []string, level mq.DelayLevel) *Scheduler {
	return &Scheduler{
		level:     level,
		reader:    mq.NewKafkaReader(brokers, level.Topic, serviceName+"-group-"+level.Topic),
		newWriter: func(topic string) messageWriter { return mq.NewKafkaWriter(brokers, topic) },
		now:       time.Now,
		retry:     time.Second,
		tracer:    otel.Tracer(serviceName),
		writers:   make(map[string]messageWriter),
	}
}

// Run 阻塞直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.Ctx(ctx).With().Str("delay.level", s.level.Topic).Logger()
	log.Info().Dur("delay", s.level.Delay).Msg("Delay scheduler started")
	defer s.reader.Close()
	defer s.closeWriters(ctx)

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Delay scheduler stopped")
				return nil
			}
			log.Error().Err(err).Msg("Could not fetch delayed message, retrying")
			if !s.sleep(ctx, s.retry) {
				return nil
			}
			continue
		}

		if !s.sleep(ctx, s.dueAt(msg).Sub(s.now())) {
			return nil
		}
		if !s.forward(ctx, msg) {
			return nil
		}
	}
}

// dueAt 优先使用生产方写入的 delay-timestamp，否则按消息写入时间加上级别延迟
func (s *Scheduler) dueAt(msg kafka.Message) time.Time {
	if v := mq.HeaderValue(msg.Headers, mq.HeaderDelayTimestamp); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts
		}
	}
	return msg.Time.Add(s.level.Delay)
}

// forward 投递并提交 offset。投递失败时原地重试，不能跳过这条消息。返回 false 表示 ctx 已结束。
func (s *Scheduler) forward(parent context.Context, msg kafka.Message) bool {
	ctx, span := s.tracer.Start(mq.ExtractTraceContext(parent, msg.Headers), "scheduler.Forward",
		trace.WithAttributes(attribute.String("delay.level", s.level.Topic)))
	defer span.End()
	log := logger.Ctx(ctx)

	realTopic := mq.HeaderValue(msg.Headers, mq.HeaderRealTopic)
	if realTopic == "" {
		// 这种错误消息也需要提交，否则会一直被重复消费
		log.Error().Str("delay.level", s.level.Topic).Msg("real-topic header missing, skipping")
		s.commit(ctx, msg)
		return true
	}
	span.SetAttributes(attribute.String("real.topic", realTopic))

	for {
		err := s.publish(ctx, realTopic, msg)
		if err == nil {
			break
		}
		span.RecordError(err)
		log.Error().Err(err).Str("real.topic", realTopic).Msg("Failed to publish to real topic, retrying")
		if !s.sleep(parent, s.retry) {
			span.SetStatus(codes.Error, "Stopped before publishing")
			return false
		}
	}
	s.commit(ctx, msg)
	span.AddEvent("MessagePublishedAndCommitted")
	return true
}

func (s *Scheduler) publish(ctx context.Context, realTopic string, msg kafka.Message) error {
	s.mu.Lock()
	w, ok := s.writers[realTopic]
	if !ok {
		w = s.newWriter(realTopic)
		s.writers[realTopic] = w
	}
	s.mu.Unlock()

	// 重新构造消息，并注入追踪上下文
	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	mq.InjectTraceContext(ctx, &out.Headers)
	if err := w.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("publish to %s: %w", realTopic, err)
	}
	return nil
}

func (s *Scheduler) commit(ctx context.Context, msg kafka.Message) {
	// 提交失败时重启后可能重复投递，下游的过期检查是幂等的
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("delay.level", s.level.Topic).Msg("Failed to commit delayed message")
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// closeWriters 安全地关闭所有 writer
func (s *Scheduler) closeWriters(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, w := range s.writers {
		if err := w.Close(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("real.topic", topic).Msg("Failed to close writer")
		}
	}
}
