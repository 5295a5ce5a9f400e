package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/infrastructure/memory"
)

const testEvent = "evt-1"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingLocker 记录加锁次数，并用真实的互斥保证串行
type countingLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	calls int
}

func (l *countingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.calls++
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

type fixture struct {
	clock        *fakeClock
	ledgerStore  *memory.LedgerStore
	holds        *memory.HoldRepository
	records      *memory.SagaRecordRepository
	ledger       *InventoryLedger
	reservations *ReservationManager
	idem         *IdempotencyStore
	locker       *countingLocker
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	f := &fixture{
		clock:       newFakeClock(),
		ledgerStore: memory.NewLedgerStore(),
		holds:       memory.NewHoldRepository(),
		records:     memory.NewSagaRecordRepository(),
		locker:      &countingLocker{},
	}
	f.ledger = NewInventoryLedger(f.ledgerStore)
	f.reservations = NewReservationManager(f.ledger, f.holds,
		WithClock(f.clock.Now),
		WithHoldLocker(f.locker),
	)
	f.idem = NewIdempotencyStore(f.records,
		WithIdempotencyClock(f.clock.Now),
		WithRetention(time.Hour),
		WithPollInterval(5*time.Millisecond),
	)
	_, err := f.ledger.Open(context.Background(), testEvent, capacity, 5000)
	require.NoError(t, err)
	return f
}

func (f *fixture) snapshot(t *testing.T) domain.Snapshot {
	t.Helper()
	s, err := f.ledger.Snapshot(context.Background(), testEvent)
	require.NoError(t, err)
	return s
}
