package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

type ReservationOption func(*ReservationManager)

// WithClock 测试中注入可控的时钟
func WithClock(now func() time.Time) ReservationOption {
	return func(m *ReservationManager) { m.now = now }
}

// WithTransactor hold 迁移与账本变更在同一事务中提交（两者同在 MySQL 时）
func WithTransactor(tx domain.Transactor) ReservationOption {
	return func(m *ReservationManager) { m.tx = tx }
}

func WithHoldLocker(l port.HoldLocker) ReservationOption {
	return func(m *ReservationManager) { m.locker = l }
}

func WithExpiryScheduler(s port.ExpiryScheduler) ReservationOption {
	return func(m *ReservationManager) { m.scheduler = s }
}

// ReservationManager 管理 hold 的生命周期：ACTIVE -> CONFIRMED | RELEASED | EXPIRED。
// hold 的迁移都是 WHERE state = 'ACTIVE' 的条件更新，只有迁移成功的一方才会改动账本。
type ReservationManager struct {
	ledger    *InventoryLedger
	holds     domain.HoldRepository
	tx        domain.Transactor
	locker    port.HoldLocker
	scheduler port.ExpiryScheduler
	now       func() time.Time
}

func NewReservationManager(ledger *InventoryLedger, holds domain.HoldRepository, opts ...ReservationOption) *ReservationManager {
	m := &ReservationManager{
		ledger: ledger,
		holds:  holds,
		tx:     domain.NoopTransactor{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reserve 占座并创建 ACTIVE hold。容量不足时不会产生任何 hold。
func (m *ReservationManager) Reserve(ctx context.Context, eventID string, seats int, ttl time.Duration) (domain.Hold, error) {
	if seats <= 0 {
		return domain.Hold{}, domain.ErrInvalidSeats
	}
	if ttl <= 0 {
		return domain.Hold{}, fmt.Errorf("reserve on %s: ttl must be positive", eventID)
	}

	now := m.now()
	hold := domain.Hold{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Seats:     seats,
		State:     domain.HoldActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 占座与写 hold 在同一事务中：进程在两者之间退出时事务回滚，不会留下没有 hold 的 held
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.ledger.TryHold(ctx, eventID, seats); err != nil {
			return err
		}
		if err := m.holds.Create(ctx, hold); err != nil {
			// 账本不在事务内（内存、Redis）时回滚不到它，这里显式退回；在事务内则与回滚相抵
			if rerr := m.ledger.Release(context.WithoutCancel(ctx), eventID, seats); rerr != nil {
				logger.Ctx(ctx).Error().Err(rerr).Str("event_id", eventID).Int("seats", seats).
					Msg("CRITICAL: failed to return seats after hold creation failed")
			}
			return fmt.Errorf("create hold on %s: %w", eventID, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventQuarantined) {
			// 事务内写下的隔离标记随回滚丢失，在事务外重新检查一次
			_, _ = m.ledger.Snapshot(context.WithoutCancel(ctx), eventID)
		}
		return domain.Hold{}, err
	}
	metrics.HoldTransitions.WithLabelValues(string(domain.HoldActive)).Inc()

	if m.scheduler != nil {
		if err := m.scheduler.ScheduleHoldExpiry(ctx, hold); err != nil {
			// 定时清扫兜底，这里只记录
			logger.Ctx(ctx).Warn().Err(err).Str("hold_id", hold.ID).Msg("Failed to schedule hold expiry check")
		}
	}
	return hold, nil
}

// ConfirmHold 支付成功后把 hold 转为 CONFIRMED。hold 非 ACTIVE 或已过期时返回 ErrInvalidState。
func (m *ReservationManager) ConfirmHold(ctx context.Context, holdID, bookingID string) (domain.Hold, error) {
	unlock, err := m.lock(ctx, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	defer unlock()

	hold, err := m.holds.Get(ctx, holdID)
	if err != nil {
		return domain.Hold{}, err
	}
	if hold.State != domain.HoldActive {
		return hold, m.invalid(ctx, "confirm", hold, "hold is not active")
	}

	now := m.now()
	if hold.ExpiredAt(now) {
		// 懒过期：清扫还没来得及处理
		if _, err := m.terminate(ctx, hold, domain.HoldExpired, now); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("hold_id", holdID).Msg("Failed to expire hold during confirm")
		}
		return hold, m.invalid(ctx, "confirm", hold, "hold expired at "+hold.ExpiresAt.Format(time.RFC3339))
	}

	if bookingID == "" {
		bookingID = uuid.NewString()
	}
	won := false
	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := m.holds.Transition(ctx, holdID, domain.HoldActive, domain.HoldConfirmed, bookingID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: hold %s changed concurrently", domain.ErrInvalidState, holdID)
		}
		won = true
		return m.ledger.Confirm(ctx, hold.EventID, hold.Seats)
	})
	if err != nil {
		if won {
			m.reactivate(ctx, hold, domain.HoldConfirmed)
		}
		m.afterLedgerFailure(ctx, hold, err)
		return domain.Hold{}, err
	}

	metrics.HoldTransitions.WithLabelValues(string(domain.HoldConfirmed)).Inc()
	hold.State = domain.HoldConfirmed
	hold.BookingID = bookingID
	hold.UpdatedAt = now
	return hold, nil
}

// ReleaseHold 主动释放（saga 补偿）。hold 已是终态时返回 ErrInvalidState，座位不会被重复退回。
func (m *ReservationManager) ReleaseHold(ctx context.Context, holdID string) error {
	unlock, err := m.lock(ctx, holdID)
	if err != nil {
		return err
	}
	defer unlock()

	hold, err := m.holds.Get(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.State != domain.HoldActive {
		return m.invalid(ctx, "release", hold, "hold is not active")
	}
	won, err := m.terminate(ctx, hold, domain.HoldReleased, m.now())
	if err != nil {
		return err
	}
	if !won {
		return m.invalid(ctx, "release", hold, "hold changed concurrently")
	}
	return nil
}

// ExpireHold 单个 hold 的过期检查，可重复调用：终态或未到期时返回 false。
func (m *ReservationManager) ExpireHold(ctx context.Context, holdID string) (bool, error) {
	return m.expire(ctx, holdID, m.now())
}

// ExpireDue 清扫：过期所有 expires_at <= now 的 ACTIVE hold
func (m *ReservationManager) ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	due, err := m.holds.ListExpired(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}

	var expired []domain.Hold
	var errs []error
	for _, h := range due {
		ok, err := m.expire(ctx, h.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire hold %s: %w", h.ID, err))
			continue
		}
		if ok {
			h.State = domain.HoldExpired
			h.UpdatedAt = now
			expired = append(expired, h)
		}
	}
	return expired, errors.Join(errs...)
}

// GetHold 只读查询
func (m *ReservationManager) GetHold(ctx context.Context, holdID string) (domain.Hold, error) {
	return m.holds.Get(ctx, holdID)
}

// Quote 计算 seats 个座位的总价（分）
func (m *ReservationManager) Quote(ctx context.Context, eventID string, seats int) (int64, error) {
	snap, err := m.ledger.Snapshot(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return snap.UnitPriceCents * int64(seats), nil
}

func (m *ReservationManager) expire(ctx context.Context, holdID string, now time.Time) (bool, error) {
	unlock, err := m.lock(ctx, holdID)
	if err != nil {
		return false, err
	}
	defer unlock()

	hold, err := m.holds.Get(ctx, holdID)
	if err != nil {
		return false, err
	}
	if hold.State.IsTerminal() || !hold.ExpiredAt(now) {
		return false, nil
	}
	won, err := m.terminate(ctx, hold, domain.HoldExpired, now)
	if err != nil {
		return false, err
	}
	if won {
		logger.Ctx(ctx).Info().Str("hold_id", hold.ID).Str("event_id", hold.EventID).Int("seats", hold.Seats).Msg("Hold expired, seats returned")
	}
	return won, nil
}

// terminate ACTIVE -> RELEASED/EXPIRED 并退回座位，返回是否由本次调用完成迁移
func (m *ReservationManager) terminate(ctx context.Context, hold domain.Hold, to domain.HoldState, now time.Time) (bool, error) {
	won := false
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := m.holds.Transition(ctx, hold.ID, domain.HoldActive, to, "", now)
		if err != nil || !ok {
			return err
		}
		won = true
		return m.ledger.Release(ctx, hold.EventID, hold.Seats)
	})
	if err != nil {
		if won {
			m.reactivate(ctx, hold, to)
		}
		m.afterLedgerFailure(ctx, hold, err)
		return false, err
	}
	if won {
		metrics.HoldTransitions.WithLabelValues(string(to)).Inc()
	}
	return won, nil
}

// reactivate 账本更新失败后把 hold 迁回 ACTIVE，让后续的释放或清扫还能退回座位。
// 事务已回滚时 hold 本来就是 ACTIVE，条件更新不会命中。
func (m *ReservationManager) reactivate(ctx context.Context, hold domain.Hold, from domain.HoldState) {
	ctx = context.WithoutCancel(ctx)
	ok, err := m.holds.Transition(ctx, hold.ID, from, domain.HoldActive, hold.BookingID, hold.UpdatedAt)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("hold_id", hold.ID).Str("event_id", hold.EventID).Int("seats", hold.Seats).
			Msg("CRITICAL: failed to reactivate hold after ledger update failed")
		return
	}
	if ok {
		logger.Ctx(ctx).Warn().Str("hold_id", hold.ID).Str("from", string(from)).Msg("Hold reactivated after ledger update failed")
	}
}

// afterLedgerFailure 事务已回滚，在事务外隔离演出
func (m *ReservationManager) afterLedgerFailure(ctx context.Context, hold domain.Hold, err error) {
	if errors.Is(err, domain.ErrLedgerMismatch) {
		m.ledger.Quarantine(context.WithoutCancel(ctx), hold.EventID, err)
	}
}

func (m *ReservationManager) invalid(ctx context.Context, op string, hold domain.Hold, detail string) error {
	metrics.InvalidHoldTransitions.WithLabelValues(op).Inc()
	err := fmt.Errorf("%w: %s hold %s (%s): %s", domain.ErrInvalidState, op, hold.ID, hold.State, detail)
	logger.Ctx(ctx).Error().Err(err).Str("hold_id", hold.ID).Str("event_id", hold.EventID).Msg("Rejected hold transition")
	return err
}

func (m *ReservationManager) lock(ctx context.Context, holdID string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	unlock, err := m.locker.Lock(ctx, "hold-"+holdID)
	if err != nil {
		return nil, fmt.Errorf("lock hold %s: %w", holdID, err)
	}
	return unlock, nil
}
