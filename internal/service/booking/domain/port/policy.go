package port

import "context"

// AdmissionInput 是准入规则可以引用的请求字段
type AdmissionInput struct {
	EventID          string
	Seats            int
	IdempotencyKey   string
	PaymentReference string
}

// AdmissionPolicy 在 saga 开始前拒绝不合规的请求，拒绝时返回 domain.ErrRequestRejected
type AdmissionPolicy interface {
	Admit(ctx context.Context, in AdmissionInput) error
}
