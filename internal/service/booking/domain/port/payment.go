package port

import "context"

type ChargeStatus string

const (
	ChargePaid        ChargeStatus = "PAID"
	ChargeDeclined    ChargeStatus = "DECLINED"
	ChargeUnavailable ChargeStatus = "UNAVAILABLE"
)

type ChargeResult struct {
	Status        ChargeStatus
	TransactionID string // ChargePaid 时有值
	DeclineReason string // ChargeDeclined 时有值
}

// PaymentGateway 外部支付网关。
// 同一个 reference 的重复调用不会重复扣款；超时、网络错误以及任何非 nil error 都按 ChargeUnavailable 处理。
type PaymentGateway interface {
	Charge(ctx context.Context, amountCents int64, reference string) (ChargeResult, error)
}
