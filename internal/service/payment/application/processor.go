package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
)

type ChargeStatus string

const (
	ChargePaid     ChargeStatus = "PAID"
	ChargeDeclined ChargeStatus = "DECLINED"
)

// 故障注入用的 reference 前缀，便于联调时稳定复现
const (
	DeclinePrefix     = "decline-"
	UnavailablePrefix = "unavailable-"
)

var (
	ErrInvalidCharge  = errors.New("amount must be positive and reference is required")
	ErrAmountMismatch = errors.New("reference already charged with a different amount")
	ErrChargeNotFound = errors.New("charge not found")
	ErrUnavailable    = errors.New("payment processor temporarily unavailable")
)

// Charge 一次扣款的终态结果。不可用不是终态，不会被记录。
type Charge struct {
	Reference     string       `json:"reference"`
	AmountCents   int64        `json:"amount_cents"`
	Status        ChargeStatus `json:"status"`
	TransactionID string       `json:"transaction_id,omitempty"`
	DeclineReason string       `json:"decline_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// FaultRules 模拟下游支付渠道的不稳定
type FaultRules struct {
	DeclineRate     float64
	UnavailableRate float64
	Latency         time.Duration
	MaxAmountCents  int64 // 超过时拒付，0 表示不限制
}

type Option func(*Processor)

func WithRandom(f func() float64) Option {
	return func(p *Processor) { p.random = f }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor 按 reference 幂等：同一个 reference 只会扣款一次，重复请求返回第一次的结果。
type Processor struct {
	rules  FaultRules
	random func() float64
	now    func() time.Time
	group  singleflight.Group

	mu      sync.RWMutex
	charges map[string]Charge
}

func NewProcessor(rules FaultRules, opts ...Option) *Processor {
	p := &Processor{
		rules:   rules,
		random:  rand.Float64,
		now:     func() time.Time { return time.Now().UTC() },
		charges: make(map[string]Charge),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Charge(ctx context.Context, amountCents int64, reference string) (Charge, error) {
	if amountCents <= 0 || reference == "" {
		return Charge{}, ErrInvalidCharge
	}
	if c, ok := p.lookup(reference); ok {
		return replayed(c, amountCents)
	}

	// 同一 reference 的并发请求只处理一次
	v, err, shared := p.group.Do(reference, func() (any, error) {
		if c, ok := p.lookup(reference); ok {
			return c, nil
		}
		return p.process(ctx, amountCents, reference)
	})
	if err != nil {
		return Charge{}, err
	}
	c := v.(Charge)
	if shared {
		return replayed(c, amountCents)
	}
	return c, nil
}

func (p *Processor) Get(_ context.Context, reference string) (Charge, error) {
	c, ok := p.lookup(reference)
	if !ok {
		return Charge{}, fmt.Errorf("%w: %s", ErrChargeNotFound, reference)
	}
	return c, nil
}

func (p *Processor) process(ctx context.Context, amountCents int64, reference string) (Charge, error) {
	if p.rules.Latency > 0 {
		timer := time.NewTimer(p.rules.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Charge{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
	}

	c := Charge{Reference: reference, AmountCents: amountCents, CreatedAt: p.now()}
	roll := p.random()
	switch {
	case strings.HasPrefix(reference, UnavailablePrefix), roll < p.rules.UnavailableRate:
		metrics.ProcessedCharges.WithLabelValues("UNAVAILABLE").Inc()
		logger.Ctx(ctx).Warn().Str("reference", reference).Msg("Injecting processor outage")
		return Charge{}, ErrUnavailable
	case strings.HasPrefix(reference, DeclinePrefix):
		c.Status, c.DeclineReason = ChargeDeclined, "card declined"
	case p.rules.MaxAmountCents > 0 && amountCents > p.rules.MaxAmountCents:
		c.Status, c.DeclineReason = ChargeDeclined, "amount exceeds limit"
	case roll < p.rules.UnavailableRate+p.rules.DeclineRate:
		c.Status, c.DeclineReason = ChargeDeclined, "insufficient funds"
	default:
		c.Status, c.TransactionID = ChargePaid, uuid.NewString()
	}

	p.mu.Lock()
	p.charges[reference] = c
	p.mu.Unlock()

	metrics.ProcessedCharges.WithLabelValues(string(c.Status)).Inc()
	logger.Ctx(ctx).Info().Str("reference", reference).Int64("amount_cents", amountCents).
		Str("status", string(c.Status)).Msg("Charge processed")
	return c, nil
}

func (p *Processor) lookup(reference string) (Charge, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.charges[reference]
	return c, ok
}

func replayed(c Charge, amountCents int64) (Charge, error) {
	if c.AmountCents != amountCents {
		return Charge{}, fmt.Errorf("%w: %s charged %d, got %d", ErrAmountMismatch, c.Reference, c.AmountCents, amountCents)
	}
	return c, nil
}
