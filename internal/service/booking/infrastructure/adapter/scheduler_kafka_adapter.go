package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/booking/domain"
)

// pickLevel 选不小于 d 的最短延迟；d 超过最长延迟时用最长的，消费端发现未到期会再次投递
func pickLevel(levels []mq.DelayLevel, d time.Duration) mq.DelayLevel {
	sorted := append([]mq.DelayLevel(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Delay < sorted[j].Delay })
	for _, l := range sorted {
		if l.Delay >= d {
			return l
		}
	}
	return sorted[len(sorted)-1]
}

// SchedulerKafkaAdapter 实现了 port.ExpiryScheduler 接口，把过期检查投递到延迟主题。
type SchedulerKafkaAdapter struct {
	realTopic string
	levels    []mq.DelayLevel
	now       func() time.Time
	newWriter func(topic string) messageWriter

	mu      sync.Mutex
	writers map[string]messageWriter // key: delay topic
}

func NewSchedulerKafkaAdapter(brokers []string, realTopic string) *SchedulerKafkaAdapter {
	return &SchedulerKafkaAdapter{
		realTopic: realTopic,
		levels:    mq.DelayLevels,
		now:       time.Now,
		newWriter: func(topic string) messageWriter { return mq.NewKafkaWriter(brokers, topic) },
		writers:   make(map[string]messageWriter),
	}
}

func (a *SchedulerKafkaAdapter) ScheduleHoldExpiry(ctx context.Context, hold domain.Hold) error {
	taskEvent := domain.HoldExpiryCheckEvent{
		TraceID:   trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
		HoldID:    hold.ID,
		EventID:   hold.EventID,
		ExpiresAt: hold.ExpiresAt,
	}
	taskBytes, err := json.Marshal(taskEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal hold expiry check: %w", err)
	}

	level := pickLevel(a.levels, hold.ExpiresAt.Sub(a.now()))
	msg := kafka.Message{
		Key:   []byte(hold.ID),
		Value: taskBytes,
		Headers: []kafka.Header{
			{Key: mq.HeaderRealTopic, Value: []byte(a.realTopic)},
			{Key: mq.HeaderDelayTimestamp, Value: []byte(hold.ExpiresAt.UTC().Format(time.RFC3339))},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	return a.writer(level.Topic).WriteMessages(ctx, msg)
}

func (a *SchedulerKafkaAdapter) writer(topic string) messageWriter {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.writers[topic]
	if !ok {
		w = a.newWriter(topic)
		a.writers[topic] = w
	}
	return w
}

// Close 关闭所有延迟主题的 writer
func (a *SchedulerKafkaAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for topic, w := range a.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for %s: %w", topic, err)
		}
	}
	return firstErr
}
