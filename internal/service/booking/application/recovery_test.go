package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/service/booking/domain"
)

func TestRecoveryResolvesAbandonedSagas(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	recovery := NewRecovery(f.idem, f.reservations, time.Minute, f.clock.Now)

	begin := func(key string) {
		_, created, err := f.idem.Begin(ctx, key, "")
		require.NoError(t, err)
		require.True(t, created)
	}

	// 1. 没有 hold
	begin("no-hold")

	// 2. hold 已确认（确认后、写结果前崩溃）
	begin("confirmed")
	h1, err := f.reservations.Reserve(ctx, testEvent, 2, 10*time.Minute)
	require.NoError(t, err)
	_, err = f.idem.AttachHold(ctx, "confirmed", h1.ID)
	require.NoError(t, err)
	_, err = f.reservations.ConfirmHold(ctx, h1.ID, "bk-42")
	require.NoError(t, err)

	// 3. hold 仍 ACTIVE 且未过期：不处理
	begin("active")
	h2, err := f.reservations.Reserve(ctx, testEvent, 3, 10*time.Minute)
	require.NoError(t, err)
	_, err = f.idem.AttachHold(ctx, "active", h2.ID)
	require.NoError(t, err)

	// grace 之内不处理任何记录
	n, err := recovery.Run(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Minute)
	n, err = recovery.Run(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := f.idem.Get(ctx, "no-hold")
	require.NoError(t, err)
	assert.Equal(t, domain.Failed(domain.ReasonTimeout), rec.Outcome())

	rec, err = f.idem.Get(ctx, "confirmed")
	require.NoError(t, err)
	assert.Equal(t, domain.Succeeded("bk-42"), rec.Outcome())

	rec, err = f.idem.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaPending, rec.Status)

	// hold 到期后：过期并退回座位，记录为 TIMEOUT
	f.clock.Advance(10 * time.Minute)
	n, err = recovery.Run(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = f.idem.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, domain.Failed(domain.ReasonTimeout), rec.Outcome())
	s := f.snapshot(t)
	assert.Equal(t, 2, s.Confirmed)
	assert.Equal(t, 0, s.Held)
}

func TestRecoveryMissingHold(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	recovery := NewRecovery(f.idem, f.reservations, time.Minute, f.clock.Now)

	_, _, err := f.idem.Begin(ctx, "k", "")
	require.NoError(t, err)
	_, err = f.idem.AttachHold(ctx, "k", "ghost")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	n, err := recovery.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.idem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTimeout, rec.Reason)
}
