package domain

import (
	"context"
	"time"
)

type HoldState string

const (
	HoldActive    HoldState = "ACTIVE"
	HoldConfirmed HoldState = "CONFIRMED"
	HoldReleased  HoldState = "RELEASED"
	HoldExpired   HoldState = "EXPIRED"
)

// IsTerminal 终态不可再迁移
func (s HoldState) IsTerminal() bool {
	return s == HoldConfirmed || s == HoldReleased || s == HoldExpired
}

// Hold 临时占座。只有 ACTIVE 可以迁移，且只能迁移一次。
type Hold struct {
	ID        string
	EventID   string
	Seats     int
	State     HoldState
	ExpiresAt time.Time
	BookingID string // 仅 CONFIRMED 时有值
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiredAt now 不早于 ExpiresAt 即视为过期
func (h Hold) ExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

type HoldRepository interface {
	Create(ctx context.Context, hold Hold) error
	Get(ctx context.Context, id string) (Hold, error)
	// Transition 条件更新 WHERE id = ? AND state = from，返回是否由本次调用完成迁移
	Transition(ctx context.Context, id string, from, to HoldState, bookingID string, at time.Time) (bool, error)
	// ListExpired 返回 ACTIVE 且 expires_at <= now 的 hold，按过期时间升序
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error)
}

// Transactor 让多个仓储操作在同一事务中执行；不支持事务的存储直接调用 fn
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTransactor 用于内存存储和 Redis 账本
type NoopTransactor struct{}

func (NoopTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
