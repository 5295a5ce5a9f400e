package saga

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"boxoffice/internal/service/booking/domain"
)

type BookingRequest struct {
	EventID          string `json:"event_id"`
	Seats            int    `json:"seats"`
	IdempotencyKey   string `json:"idempotency_key"`
	PaymentReference string `json:"payment_reference"`
}

func (r *BookingRequest) Validate() error {
	if r.IdempotencyKey == "" {
		return domain.ErrInvalidIdempotencyKey
	}
	if r.EventID == "" {
		return fmt.Errorf("%w: event_id is required", domain.ErrInvalidRequest)
	}
	if r.Seats <= 0 {
		return domain.ErrInvalidSeats
	}
	return nil
}

// reference 未提供支付流水号时使用幂等 key，保证重试时网关看到的是同一笔支付
func (r *BookingRequest) reference() string {
	if r.PaymentReference != "" {
		return r.PaymentReference
	}
	return r.IdempotencyKey
}

// Fingerprint 请求参数摘要，同一个 key 携带不同参数时用来识别冲突
func (r *BookingRequest) Fingerprint() string {
	sum := sha256.Sum256([]byte(r.EventID + "\x00" + strconv.Itoa(r.Seats) + "\x00" + r.reference()))
	return hex.EncodeToString(sum[:16])
}

type Status string

const (
	StatusSucceeded            Status = "SUCCEEDED"
	StatusDeclined             Status = "DECLINED"
	StatusInsufficientCapacity Status = "INSUFFICIENT_CAPACITY"
	StatusFailed               Status = "FAILED"
)

// Result 是返回给调用方的终态结果，永远不会是 PENDING
type Result struct {
	IdempotencyKey string               `json:"idempotency_key"`
	Status         Status               `json:"status"`
	BookingID      string               `json:"booking_id,omitempty"`
	Reason         domain.FailureReason `json:"reason,omitempty"`
}

func ResultFromRecord(rec domain.SagaRecord) Result {
	res := Result{IdempotencyKey: rec.Key, BookingID: rec.BookingID, Reason: rec.Reason}
	switch {
	case rec.Status == domain.SagaSucceeded:
		res.Status = StatusSucceeded
	case rec.Reason == domain.ReasonDeclined:
		res.Status = StatusDeclined
	case rec.Reason == domain.ReasonInsufficientCapacity:
		res.Status = StatusInsufficientCapacity
	default:
		res.Status = StatusFailed
	}
	return res
}
