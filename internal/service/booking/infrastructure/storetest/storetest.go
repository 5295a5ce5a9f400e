// Package storetest 是各存储实现共用的行为测试，内存、SQLite 和 Redis 实现都要通过。
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/service/booking/domain"
)

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func LedgerStore(t *testing.T, newStore func(t *testing.T) domain.LedgerStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 10, UnitPriceCents: 1500}))
		assert.ErrorIs(t, s.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 3}), domain.ErrEventExists)

		e, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, 10, e.TotalCapacity)
		assert.Equal(t, int64(1500), e.UnitPriceCents)
		assert.False(t, e.Quarantined)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("conditional updates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 10}))

		ok, err := s.TryHold(ctx, "e1", 6)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryHold(ctx, "e1", 5)
		require.NoError(t, err)
		assert.False(t, ok, "would exceed capacity")

		ok, err = s.ConfirmHeld(ctx, "e1", 4)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.ReleaseHeld(ctx, "e1", 3)
		require.NoError(t, err)
		assert.False(t, ok, "only 2 seats held")
		ok, err = s.ReleaseHeld(ctx, "e1", 2)
		require.NoError(t, err)
		assert.True(t, ok)

		e, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, 4, e.Confirmed)
		assert.Equal(t, 0, e.Held)
		assert.Equal(t, 6, e.Available())

		ok, err = s.TryHold(ctx, "missing", 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("quarantine blocks holds", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, domain.LedgerEntry{EventID: "e1", TotalCapacity: 10}))
		require.NoError(t, s.Quarantine(ctx, "e1"))

		ok, err := s.TryHold(ctx, "e1", 1)
		require.NoError(t, err)
		assert.False(t, ok)

		e, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		assert.True(t, e.Quarantined)

		assert.ErrorIs(t, s.Quarantine(ctx, "missing"), domain.ErrEventNotFound)
	})
}

func HoldRepository(t *testing.T, newRepo func(t *testing.T) domain.HoldRepository) {
	ctx := context.Background()
	hold := func(id string, expiresIn time.Duration) domain.Hold {
		return domain.Hold{
			ID: id, EventID: "e1", Seats: 2, State: domain.HoldActive,
			ExpiresAt: base.Add(expiresIn), CreatedAt: base, UpdatedAt: base,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.Create(ctx, hold("h1", time.Minute)))

		got, err := r.Get(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "e1", got.EventID)
		assert.Equal(t, 2, got.Seats)
		assert.Equal(t, domain.HoldActive, got.State)
		assert.True(t, got.ExpiresAt.Equal(base.Add(time.Minute)))

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrHoldNotFound)
	})

	t.Run("transition happens once", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.Create(ctx, hold("h1", time.Minute)))

		ok, err := r.Transition(ctx, "h1", domain.HoldActive, domain.HoldConfirmed, "b-1", base.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.Transition(ctx, "h1", domain.HoldActive, domain.HoldReleased, "", base.Add(2*time.Second))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := r.Get(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, domain.HoldConfirmed, got.State)
		assert.Equal(t, "b-1", got.BookingID)

		ok, err = r.Transition(ctx, "missing", domain.HoldActive, domain.HoldReleased, "", base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list expired", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.Create(ctx, hold("late", 3*time.Minute)))
		require.NoError(t, r.Create(ctx, hold("early", time.Minute)))
		require.NoError(t, r.Create(ctx, hold("middle", 2*time.Minute)))
		require.NoError(t, r.Create(ctx, hold("future", time.Hour)))
		require.NoError(t, r.Create(ctx, hold("done", 0)))
		_, err := r.Transition(ctx, "done", domain.HoldActive, domain.HoldReleased, "", base)
		require.NoError(t, err)

		due, err := r.ListExpired(ctx, base.Add(3*time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, "early", due[0].ID)
		assert.Equal(t, "middle", due[1].ID)
		assert.Equal(t, "late", due[2].ID)

		due, err = r.ListExpired(ctx, base.Add(3*time.Minute), 2)
		require.NoError(t, err)
		assert.Len(t, due, 2)
	})
}

func SagaRecordRepository(t *testing.T, newRepo func(t *testing.T) domain.SagaRecordRepository) {
	ctx := context.Background()
	pending := func(key string, created time.Time) domain.SagaRecord {
		return domain.SagaRecord{Key: key, Fingerprint: "fp-" + key, Status: domain.SagaPending, CreatedAt: created}
	}

	t.Run("insert if absent", func(t *testing.T) {
		r := newRepo(t)
		ok, err := r.Insert(ctx, pending("k1", base))
		require.NoError(t, err)
		assert.True(t, ok)

		dup := pending("k1", base.Add(time.Minute))
		dup.Fingerprint = "other"
		ok, err = r.Insert(ctx, dup)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := r.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "fp-k1", got.Fingerprint)
		assert.Equal(t, domain.SagaPending, got.Status)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.True(t, got.FinishedAt.IsZero())

		_, err = r.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("finalize once", func(t *testing.T) {
		r := newRepo(t)
		_, err := r.Insert(ctx, pending("k1", base))
		require.NoError(t, err)

		ok, err := r.AttachHold(ctx, "k1", "h1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = r.Finalize(ctx, "k1", domain.Succeeded("b-1"), base.Add(time.Second))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.Finalize(ctx, "k1", domain.Failed(domain.ReasonTimeout), base.Add(2*time.Second))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = r.AttachHold(ctx, "k1", "h2")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := r.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, domain.SagaSucceeded, got.Status)
		assert.Equal(t, "b-1", got.BookingID)
		assert.Equal(t, "h1", got.HoldID)
		assert.True(t, got.FinishedAt.Equal(base.Add(time.Second)))

		ok, err = r.Finalize(ctx, "missing", domain.Failed(domain.ReasonTimeout), base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list finished newest first", func(t *testing.T) {
		r := newRepo(t)
		for i, key := range []string{"k1", "k2", "k3", "open"} {
			_, err := r.Insert(ctx, pending(key, base))
			require.NoError(t, err)
			if key == "open" {
				continue
			}
			_, err = r.Finalize(ctx, key, domain.Succeeded("b-"+key), base.Add(time.Duration(i+1)*time.Second))
			require.NoError(t, err)
		}

		recs, err := r.ListFinished(ctx, base.Add(time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "k3", recs[0].Key)
		assert.Equal(t, "k2", recs[1].Key)
		assert.Equal(t, "k1", recs[2].Key)
		assert.Equal(t, "b-k3", recs[0].BookingID)

		// before 不含边界，用上一页最后一条的 finished_at 翻页
		recs, err = r.ListFinished(ctx, base.Add(3*time.Second), 1)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "k2", recs[0].Key)

		recs, err = r.ListFinished(ctx, base.Add(time.Second), 0)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("list pending and purge", func(t *testing.T) {
		r := newRepo(t)
		for i, key := range []string{"p0", "p1", "p2", "done"} {
			_, err := r.Insert(ctx, pending(key, base.Add(-time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		_, err := r.Insert(ctx, pending("fresh", base.Add(time.Hour)))
		require.NoError(t, err)
		_, err = r.Finalize(ctx, "done", domain.Failed(domain.ReasonDeclined), base)
		require.NoError(t, err)

		recs, err := r.ListPending(ctx, base, 0)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "p2", recs[0].Key)
		assert.Equal(t, "p1", recs[1].Key)
		assert.Equal(t, "p0", recs[2].Key)

		recs, err = r.ListPending(ctx, base, 1)
		require.NoError(t, err)
		assert.Len(t, recs, 1)

		n, err := r.DeleteFinishedBefore(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		n, err = r.DeleteFinishedBefore(ctx, base.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = r.Get(ctx, "done")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		_, err = r.Get(ctx, "p0")
		assert.NoError(t, err)
	})
}
