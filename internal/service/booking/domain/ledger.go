package domain

import (
	"context"
	"fmt"
)

// LedgerEntry 单个演出的座位账本，Confirmed + Held 永远不超过 TotalCapacity
type LedgerEntry struct {
	EventID        string
	TotalCapacity  int
	Confirmed      int
	Held           int
	UnitPriceCents int64
	Quarantined    bool
}

func (e LedgerEntry) Available() int {
	return e.TotalCapacity - e.Confirmed - e.Held
}

// CheckInvariant 返回非 nil 表示账本已损坏，需要隔离该演出
func (e LedgerEntry) CheckInvariant() error {
	if e.Confirmed < 0 || e.Held < 0 || e.TotalCapacity < 0 {
		return fmt.Errorf("%w: event %s has negative counters (total=%d confirmed=%d held=%d)",
			ErrLedgerMismatch, e.EventID, e.TotalCapacity, e.Confirmed, e.Held)
	}
	if e.Confirmed+e.Held > e.TotalCapacity {
		return fmt.Errorf("%w: event %s oversold (total=%d confirmed=%d held=%d)",
			ErrLedgerMismatch, e.EventID, e.TotalCapacity, e.Confirmed, e.Held)
	}
	return nil
}

// Snapshot 是对外暴露的只读视图
type Snapshot struct {
	EventID        string `json:"event_id"`
	TotalCapacity  int    `json:"total_capacity"`
	Confirmed      int    `json:"confirmed"`
	Held           int    `json:"held"`
	Available      int    `json:"available"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quarantined    bool   `json:"quarantined"`
}

func (e LedgerEntry) Snapshot() Snapshot {
	return Snapshot{
		EventID:        e.EventID,
		TotalCapacity:  e.TotalCapacity,
		Confirmed:      e.Confirmed,
		Held:           e.Held,
		Available:      e.Available(),
		UnitPriceCents: e.UnitPriceCents,
		Quarantined:    e.Quarantined,
	}
}

// LedgerStore 每个方法都必须是存储层的一次原子条件更新。
// 条件不满足时返回 (false, nil)，由上层区分具体原因。
type LedgerStore interface {
	Create(ctx context.Context, entry LedgerEntry) error
	Get(ctx context.Context, eventID string) (LedgerEntry, error)
	// TryHold held += seats，条件：未隔离 且 confirmed + held + seats <= total
	TryHold(ctx context.Context, eventID string, seats int) (bool, error)
	// ConfirmHeld held -= seats, confirmed += seats，条件：held >= seats
	ConfirmHeld(ctx context.Context, eventID string, seats int) (bool, error)
	// ReleaseHeld held -= seats，条件：held >= seats
	ReleaseHeld(ctx context.Context, eventID string, seats int) (bool, error)
	Quarantine(ctx context.Context, eventID string) error
}
