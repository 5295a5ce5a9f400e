package domain

import "time"

// BookingOutcomeEvent 发送到 Kafka，推送网关按 IdempotencyKey 推给客户端
type BookingOutcomeEvent struct {
	TraceID        string    `json:"trace_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	EventID        string    `json:"event_id"`
	Seats          int       `json:"seats"`
	Status         string    `json:"status"`
	BookingID      string    `json:"booking_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// HoldExpiryCheckEvent 延迟消息，到期后检查 hold 是否需要过期
type HoldExpiryCheckEvent struct {
	TraceID   string    `json:"trace_id"`
	HoldID    string    `json:"hold_id"`
	EventID   string    `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
