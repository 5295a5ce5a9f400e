package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/pkg/redis"
	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/infrastructure/memory"
	"boxoffice/internal/service/booking/infrastructure/storetest"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLedgerStore(t *testing.T) {
	storetest.LedgerStore(t, func(t *testing.T) domain.LedgerStore {
		c, _ := newClient(t)
		s, err := NewLedgerStore(c)
		require.NoError(t, err)
		return s
	})
}

func TestSagaRecordRepository(t *testing.T) {
	storetest.SagaRecordRepository(t, func(t *testing.T) domain.SagaRecordRepository {
		c, _ := newClient(t)
		r, err := NewSagaRecordRepository(c)
		require.NoError(t, err)
		return r
	})
}

func TestLedgerLayout(t *testing.T) {
	c, mr := newClient(t)
	s, err := NewLedgerStore(c)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 8, UnitPriceCents: 990}))
	ok, err := s.TryHold(ctx, "e1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "8", mr.HGet("ledger:{e1}", "total"))
	assert.Equal(t, "3", mr.HGet("ledger:{e1}", "held"))
	assert.Equal(t, "0", mr.HGet("ledger:{e1}", "quarantined"))
}

func TestFinalizeMovesRecordBetweenIndexes(t *testing.T) {
	c, mr := newClient(t)
	r, err := NewSagaRecordRepository(c)
	require.NoError(t, err)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	_, err = r.Insert(ctx, domain.SagaRecord{Key: "k1", Fingerprint: "fp", Status: domain.SagaPending, CreatedAt: at})
	require.NoError(t, err)
	members, err := mr.ZMembers(pendingIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)

	_, err = r.Finalize(ctx, "k1", domain.Failed(domain.ReasonDeclined), at.Add(time.Second))
	require.NoError(t, err)
	n, err := c.GetClient().ZCard(ctx, pendingIndex).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
	members, err = mr.ZMembers(finishedIndex)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)
}

func TestInventoryLedgerOnRedis(t *testing.T) {
	c, _ := newClient(t)
	store, err := NewLedgerStore(c)
	require.NoError(t, err)
	ctx := context.Background()

	ledger := application.NewInventoryLedger(store)
	mgr := application.NewReservationManager(ledger, memory.NewHoldRepository())
	_, err = ledger.Open(ctx, "e1", 4, 1000)
	require.NoError(t, err)

	h, err := mgr.Reserve(ctx, "e1", 3, time.Minute)
	require.NoError(t, err)
	_, err = mgr.Reserve(ctx, "e1", 2, time.Minute)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	require.NoError(t, mgr.ReleaseHold(ctx, h.ID))
	snap, err := ledger.Snapshot(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Available)
}
