package application

import (
	"context"
	"errors"
	"fmt"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain"
)

// InventoryLedger 每个演出的座位账本。所有变更都委托给 LedgerStore 的原子条件更新，
// 条件失败时再读取一次账本判断原因。
type InventoryLedger struct {
	store domain.LedgerStore
}

func NewInventoryLedger(store domain.LedgerStore) *InventoryLedger {
	return &InventoryLedger{store: store}
}

// Open 登记演出容量（由目录服务在开票时调用）
func (l *InventoryLedger) Open(ctx context.Context, eventID string, capacity int, unitPriceCents int64) (domain.Snapshot, error) {
	if eventID == "" || capacity < 0 || unitPriceCents < 0 {
		return domain.Snapshot{}, fmt.Errorf("%w: open event %q needs an id and non-negative capacity and price", domain.ErrInvalidRequest, eventID)
	}
	entry := domain.LedgerEntry{EventID: eventID, TotalCapacity: capacity, UnitPriceCents: unitPriceCents}
	if err := l.store.Create(ctx, entry); err != nil {
		return domain.Snapshot{}, err
	}
	logger.Ctx(ctx).Info().Str("event_id", eventID).Int("capacity", capacity).Msg("Ledger opened")
	return entry.Snapshot(), nil
}

func (l *InventoryLedger) TryHold(ctx context.Context, eventID string, seats int) error {
	if seats <= 0 {
		return domain.ErrInvalidSeats
	}
	ok, err := l.store.TryHold(ctx, eventID, seats)
	if err != nil {
		return fmt.Errorf("hold %d seats on %s: %w", seats, eventID, err)
	}
	if ok {
		return nil
	}

	entry, err := l.store.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if entry.Quarantined {
		return domain.ErrEventQuarantined
	}
	if err := entry.CheckInvariant(); err != nil {
		l.Quarantine(ctx, eventID, err)
		return domain.ErrEventQuarantined
	}
	return domain.ErrInsufficientCapacity
}

// Confirm 把 seats 个座位从 held 转为 confirmed
func (l *InventoryLedger) Confirm(ctx context.Context, eventID string, seats int) error {
	if seats <= 0 {
		return domain.ErrInvalidSeats
	}
	ok, err := l.store.ConfirmHeld(ctx, eventID, seats)
	if err != nil {
		return fmt.Errorf("confirm %d seats on %s: %w", seats, eventID, err)
	}
	if !ok {
		return l.mismatch(ctx, eventID, "confirm", seats)
	}
	return nil
}

// Release 把 seats 个座位从 held 退回可售
func (l *InventoryLedger) Release(ctx context.Context, eventID string, seats int) error {
	if seats <= 0 {
		return domain.ErrInvalidSeats
	}
	ok, err := l.store.ReleaseHeld(ctx, eventID, seats)
	if err != nil {
		return fmt.Errorf("release %d seats on %s: %w", seats, eventID, err)
	}
	if !ok {
		return l.mismatch(ctx, eventID, "release", seats)
	}
	return nil
}

func (l *InventoryLedger) Snapshot(ctx context.Context, eventID string) (domain.Snapshot, error) {
	entry, err := l.store.Get(ctx, eventID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if verr := entry.CheckInvariant(); verr != nil && !entry.Quarantined {
		l.Quarantine(ctx, eventID, verr)
		entry.Quarantined = true
	}
	return entry.Snapshot(), nil
}

// mismatch held 不足以覆盖一个 ACTIVE hold，说明账本和 hold 记录已经不一致。
// 这里不隔离：调用方可能处于即将回滚的事务中，由调用方在事务外调用 Quarantine。
func (l *InventoryLedger) mismatch(ctx context.Context, eventID, op string, seats int) error {
	entry, err := l.store.Get(ctx, eventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s %d seats on %s with held=%d", domain.ErrLedgerMismatch, op, seats, eventID, entry.Held)
}

// Quarantine 隔离演出，之后的 TryHold 都会失败，需要人工核对后解除
func (l *InventoryLedger) Quarantine(ctx context.Context, eventID string, cause error) {
	metrics.LedgerQuarantines.Inc()
	logger.Ctx(ctx).Error().Err(cause).Str("event_id", eventID).Msg("Ledger invariant violated, quarantining event")
	if err := l.store.Quarantine(ctx, eventID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", eventID).Msg("Failed to quarantine event")
	}
}
