package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/infrastructure/memory"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingScheduler struct {
	mu    sync.Mutex
	holds []string
}

func (s *recordingScheduler) ScheduleHoldExpiry(_ context.Context, hold domain.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds = append(s.holds, hold.ID)
	return nil
}

func (s *recordingScheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.holds...)
}

func expiryMessage(t *testing.T, holdID string) kafka.Message {
	b, err := json.Marshal(domain.HoldExpiryCheckEvent{HoldID: holdID})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(holdID), Value: b}
}

func TestHoldExpiryConsumer(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	ctx := context.Background()
	ledger := application.NewInventoryLedger(memory.NewLedgerStore())
	mgr := application.NewReservationManager(ledger, memory.NewHoldRepository(), application.WithClock(clock))
	_, err := ledger.Open(ctx, "e1", 10, 100)
	require.NoError(t, err)

	due, err := mgr.Reserve(ctx, "e1", 2, time.Minute)
	require.NoError(t, err)
	later, err := mgr.Reserve(ctx, "e1", 3, time.Hour)
	require.NoError(t, err)

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	reader := &fakeReader{queue: make(chan kafka.Message, 4)}
	sched := &recordingScheduler{}
	c := &HoldExpiryConsumer{reader: reader, holds: mgr, scheduler: sched, tracer: noop.NewTracerProvider().Tracer("test")}

	reader.queue <- expiryMessage(t, due.ID)
	reader.queue <- expiryMessage(t, later.ID)
	reader.queue <- expiryMessage(t, "missing")
	reader.queue <- kafka.Message{Value: []byte("garbage")}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Start(runCtx) }()

	require.Eventually(t, func() bool { return reader.Committed() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	got, err := mgr.GetHold(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldExpired, got.State)

	got, err = mgr.GetHold(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, got.State)
	assert.Equal(t, []string{later.ID}, sched.Scheduled())

	snap, err := ledger.Snapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Held)
}
