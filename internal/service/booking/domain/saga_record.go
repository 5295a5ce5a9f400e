package domain

import (
	"context"
	"time"
)

type SagaStatus string

const (
	SagaPending   SagaStatus = "PENDING"
	SagaSucceeded SagaStatus = "SUCCEEDED"
	SagaFailed    SagaStatus = "FAILED"
)

func (s SagaStatus) IsTerminal() bool {
	return s == SagaSucceeded || s == SagaFailed
}

type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonInsufficientCapacity FailureReason = "INSUFFICIENT_CAPACITY"
	ReasonDeclined             FailureReason = "DECLINED"
	ReasonUnavailable          FailureReason = "UNAVAILABLE"
	ReasonTimeout              FailureReason = "TIMEOUT"
	ReasonCancelled            FailureReason = "CANCELLED"
	ReasonEventUnavailable     FailureReason = "EVENT_UNAVAILABLE"
	ReasonInternal             FailureReason = "INTERNAL"
)

// Outcome 是 saga 的终态结果
type Outcome struct {
	Status    SagaStatus
	BookingID string
	Reason    FailureReason
}

func Succeeded(bookingID string) Outcome {
	return Outcome{Status: SagaSucceeded, BookingID: bookingID}
}

func Failed(reason FailureReason) Outcome {
	return Outcome{Status: SagaFailed, Reason: reason}
}

// SagaRecord 幂等记录，每个 key 至多一个终态，终态后不可修改
type SagaRecord struct {
	Key         string
	Fingerprint string // 请求参数摘要，用于发现同 key 不同参数的重试
	Status      SagaStatus
	BookingID   string
	Reason      FailureReason
	HoldID      string
	CreatedAt   time.Time
	FinishedAt  time.Time
}

func (r SagaRecord) Outcome() Outcome {
	return Outcome{Status: r.Status, BookingID: r.BookingID, Reason: r.Reason}
}

type SagaRecordRepository interface {
	// Insert 仅当 key 不存在时插入，返回是否插入成功
	Insert(ctx context.Context, rec SagaRecord) (bool, error)
	Get(ctx context.Context, key string) (SagaRecord, error)
	// AttachHold 仅在 PENDING 时记录 holdID
	AttachHold(ctx context.Context, key, holdID string) (bool, error)
	// Finalize 仅在 PENDING 时写入终态
	Finalize(ctx context.Context, key string, outcome Outcome, at time.Time) (bool, error)
	// ListPending 返回 created_at <= olderThan 的 PENDING 记录
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]SagaRecord, error)
	// ListFinished 按 finished_at 倒序返回 finished_at < before 的终态记录，最多 limit 条
	ListFinished(ctx context.Context, before time.Time, limit int) ([]SagaRecord, error)
	// DeleteFinishedBefore 删除 finished_at < before 的终态记录
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
