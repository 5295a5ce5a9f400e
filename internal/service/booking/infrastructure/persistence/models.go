package persistence

import (
	"database/sql"
	"time"
)

// LedgerModel 对应 inventory_ledgers 表
type LedgerModel struct {
	EventID        string `gorm:"primaryKey;size:64"`
	TotalCapacity  int
	Confirmed      int
	Held           int
	UnitPriceCents int64
	Quarantined    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (LedgerModel) TableName() string {
	return "inventory_ledgers"
}

// HoldModel 对应 holds 表，清扫按 (state, expires_at) 查询
type HoldModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	EventID   string `gorm:"size:64;index"`
	Seats     int
	State     string    `gorm:"size:16;index:idx_holds_state_expires,priority:1"`
	ExpiresAt time.Time `gorm:"index:idx_holds_state_expires,priority:2"`
	BookingID string    `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (HoldModel) TableName() string {
	return "holds"
}

// SagaRecordModel 对应 saga_records 表，主键即幂等 key
type SagaRecordModel struct {
	IdempotencyKey string       `gorm:"primaryKey;size:128"`
	Fingerprint    string       `gorm:"size:64"`
	Status         string       `gorm:"size:16;index:idx_saga_status_created,priority:1"`
	BookingID      string       `gorm:"size:64"`
	Reason         string       `gorm:"size:32"`
	HoldID         string       `gorm:"size:64"`
	CreatedAt      time.Time    `gorm:"index:idx_saga_status_created,priority:2"`
	FinishedAt     sql.NullTime `gorm:"index"`
}

func (SagaRecordModel) TableName() string {
	return "saga_records"
}

// Models 需要自动迁移的全部表
func Models() []interface{} {
	return []interface{}{&LedgerModel{}, &HoldModel{}, &SagaRecordModel{}}
}
