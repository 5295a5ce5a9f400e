package application

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(v float64) Option {
	return WithRandom(func() float64 { return v })
}

func TestChargePaidIsIdempotent(t *testing.T) {
	p := NewProcessor(FaultRules{}, fixed(0.5))
	ctx := context.Background()

	first, err := p.Charge(ctx, 2500, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, ChargePaid, first.Status)
	assert.NotEmpty(t, first.TransactionID)

	again, err := p.Charge(ctx, 2500, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = p.Charge(ctx, 3000, "ref-1")
	assert.ErrorIs(t, err, ErrAmountMismatch)

	got, err := p.Get(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestChargeValidation(t *testing.T) {
	p := NewProcessor(FaultRules{})
	_, err := p.Charge(context.Background(), 0, "ref")
	assert.ErrorIs(t, err, ErrInvalidCharge)
	_, err = p.Charge(context.Background(), 100, "")
	assert.ErrorIs(t, err, ErrInvalidCharge)
	_, err = p.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}

func TestFaultRules(t *testing.T) {
	ctx := context.Background()

	p := NewProcessor(FaultRules{DeclineRate: 0.2, UnavailableRate: 0.1}, fixed(0.05))
	_, err := p.Charge(ctx, 100, "a")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = p.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrChargeNotFound, "unavailable is not recorded")

	p = NewProcessor(FaultRules{DeclineRate: 0.2, UnavailableRate: 0.1}, fixed(0.25))
	c, err := p.Charge(ctx, 100, "b")
	require.NoError(t, err)
	assert.Equal(t, ChargeDeclined, c.Status)

	p = NewProcessor(FaultRules{DeclineRate: 0.2, UnavailableRate: 0.1}, fixed(0.9))
	c, err = p.Charge(ctx, 100, "c")
	require.NoError(t, err)
	assert.Equal(t, ChargePaid, c.Status)

	p = NewProcessor(FaultRules{MaxAmountCents: 1000}, fixed(0.9))
	c, err = p.Charge(ctx, 1001, "d")
	require.NoError(t, err)
	assert.Equal(t, ChargeDeclined, c.Status)
	assert.Equal(t, "amount exceeds limit", c.DeclineReason)
}

func TestReferencePrefixes(t *testing.T) {
	p := NewProcessor(FaultRules{}, fixed(0.9))
	ctx := context.Background()

	c, err := p.Charge(ctx, 100, DeclinePrefix+"x")
	require.NoError(t, err)
	assert.Equal(t, ChargeDeclined, c.Status)

	_, err = p.Charge(ctx, 100, UnavailablePrefix+"x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLatencyRespectsContext(t *testing.T) {
	p := NewProcessor(FaultRules{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Charge(ctx, 100, "slow")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentChargesProcessOnce(t *testing.T) {
	var rolls atomic.Int32
	p := NewProcessor(FaultRules{Latency: 20 * time.Millisecond}, WithRandom(func() float64 {
		rolls.Add(1)
		return 0.9
	}))

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Charge(context.Background(), 500, "shared")
			assert.NoError(t, err)
			ids[i] = c.TransactionID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), rolls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
