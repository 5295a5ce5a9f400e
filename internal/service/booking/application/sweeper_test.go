package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/service/booking/domain"
)

func TestSweeperRunOnce(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	recovery := NewRecovery(f.idem, f.reservations, time.Minute, f.clock.Now)
	sweeper := NewSweeper(f.reservations, recovery, f.idem, time.Second, 10)
	sweeper.now = f.clock.Now

	_, _, err := f.idem.Begin(ctx, "crashed", "")
	require.NoError(t, err)
	hold, err := f.reservations.Reserve(ctx, testEvent, 4, 5*time.Minute)
	require.NoError(t, err)
	_, err = f.idem.AttachHold(ctx, "crashed", hold.ID)
	require.NoError(t, err)

	_, _, err = f.idem.Begin(ctx, "done", "")
	require.NoError(t, err)
	_, err = f.idem.Finish(ctx, "done", domain.Failed(domain.ReasonDeclined))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	sweeper.RunOnce(ctx)

	// hold 过期、座位退回
	assert.Equal(t, 10, f.snapshot(t).Available)
	got, err := f.reservations.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldExpired, got.State)

	// 遗留 saga 被恢复
	rec, err := f.idem.Get(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, domain.Failed(domain.ReasonTimeout), rec.Outcome())

	// 超过保留期的终态记录被清理
	_, err = f.idem.Get(ctx, "done")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t, 1)
	sweeper := NewSweeper(f.reservations, nil, nil, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
