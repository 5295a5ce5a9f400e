package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain"
)

// Recovery 处理进程崩溃后遗留的 PENDING 记录。
// 只依据 hold 的最终状态下结论：hold 仍 ACTIVE 且未过期时不处理，等它确认或过期。
type Recovery struct {
	idem         *IdempotencyStore
	reservations *ReservationManager
	grace        time.Duration
	now          func() time.Time
}

func NewRecovery(idem *IdempotencyStore, reservations *ReservationManager, grace time.Duration, now func() time.Time) *Recovery {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Recovery{idem: idem, reservations: reservations, grace: grace, now: now}
}

// Run 处理最多 limit 条超过 grace 的 PENDING 记录，返回写入终态的条数
func (r *Recovery) Run(ctx context.Context, limit int) (int, error) {
	now := r.now()
	pending, err := r.idem.ListPending(ctx, now.Add(-r.grace), limit)
	if err != nil {
		return 0, fmt.Errorf("list pending sagas: %w", err)
	}

	resolved := 0
	var errs []error
	for _, rec := range pending {
		outcome, ok, err := r.resolve(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", rec.Key, err))
			continue
		}
		if !ok {
			continue
		}
		final, err := r.idem.Finish(ctx, rec.Key, outcome)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
		metrics.RecoveryResolved.WithLabelValues(string(final.Status)).Inc()
		logger.Ctx(ctx).Warn().
			Str("idempotency_key", rec.Key).
			Str("hold_id", rec.HoldID).
			Str("status", string(final.Status)).
			Str("reason", string(final.Reason)).
			Msg("Recovered abandoned booking saga")
	}
	return resolved, errors.Join(errs...)
}

func (r *Recovery) resolve(ctx context.Context, rec domain.SagaRecord) (domain.Outcome, bool, error) {
	// 没来得及占座就中断了
	if rec.HoldID == "" {
		return domain.Failed(domain.ReasonTimeout), true, nil
	}

	hold, err := r.reservations.GetHold(ctx, rec.HoldID)
	if errors.Is(err, domain.ErrHoldNotFound) {
		return domain.Failed(domain.ReasonTimeout), true, nil
	}
	if err != nil {
		return domain.Outcome{}, false, err
	}

	switch hold.State {
	case domain.HoldConfirmed:
		return domain.Succeeded(hold.BookingID), true, nil
	case domain.HoldReleased, domain.HoldExpired:
		return domain.Failed(domain.ReasonTimeout), true, nil
	}

	expired, err := r.reservations.ExpireHold(ctx, hold.ID)
	if err != nil {
		return domain.Outcome{}, false, err
	}
	if !expired {
		return domain.Outcome{}, false, nil
	}
	return domain.Failed(domain.ReasonTimeout), true, nil
}
