package application

import (
	"context"
	"time"

	"boxoffice/internal/pkg/logger"
)

// Sweeper 周期性地过期到期 hold、恢复遗留 saga、清理过期的幂等记录
type Sweeper struct {
	reservations *ReservationManager
	recovery     *Recovery
	idem         *IdempotencyStore
	interval     time.Duration
	batch        int
	now          func() time.Time
}

func NewSweeper(reservations *ReservationManager, recovery *Recovery, idem *IdempotencyStore, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{
		reservations: reservations,
		recovery:     recovery,
		idem:         idem,
		interval:     interval,
		batch:        batch,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start 阻塞运行，直到 ctx 取消
func (s *Sweeper) Start(ctx context.Context) error {
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Msg("Hold sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("Hold sweeper stopped")
			return nil
		}
	}
}

// RunOnce 执行一轮清扫，每一步失败只记录日志，不影响后续步骤
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.now()

	expired, err := s.reservations.ExpireDue(ctx, now, s.batch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Hold sweep finished with errors")
	}
	if len(expired) > 0 {
		logger.Ctx(ctx).Info().Int("expired", len(expired)).Msg("Expired due holds")
	}

	if s.recovery != nil {
		if _, err := s.recovery.Run(ctx, s.batch); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Saga recovery pass finished with errors")
		}
	}

	if s.idem != nil {
		if _, err := s.idem.Purge(ctx, now); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Idempotency purge failed")
		}
	}
}
