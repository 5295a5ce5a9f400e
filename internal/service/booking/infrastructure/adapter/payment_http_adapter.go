package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/service/booking/domain/port"
)

const chargePath = "/charges"

// ChargeRequest 与支付服务约定的请求体
type ChargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

// ChargeResponse 与支付服务约定的响应体
type ChargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

// PaymentHTTPAdapter 实现了 port.PaymentGateway 接口。
type PaymentHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
}

func NewPaymentHTTPAdapter(client *httpclient.Client, serviceName string) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, serviceName: serviceName}
}

// Charge 200 + PAID 为成功，402 或 DECLINED 为拒绝，其余（5xx、网络错误、无法解析）都按不可用处理
func (a *PaymentHTTPAdapter) Charge(ctx context.Context, amountCents int64, reference string) (port.ChargeResult, error) {
	unavailable := port.ChargeResult{Status: port.ChargeUnavailable}

	resp, err := a.client.PostJSON(ctx, a.serviceName, chargePath, ChargeRequest{AmountCents: amountCents, Reference: reference})
	if err != nil {
		return unavailable, err
	}

	var body ChargeResponse
	decodeErr := json.Unmarshal(resp.Body, &body)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusOK && decodeErr == nil && body.Status == string(port.ChargeDeclined):
		return port.ChargeResult{Status: port.ChargeDeclined, DeclineReason: body.DeclineReason}, nil
	case resp.StatusCode == http.StatusOK && decodeErr == nil && body.Status == string(port.ChargePaid):
		return port.ChargeResult{Status: port.ChargePaid, TransactionID: body.TransactionID}, nil
	case decodeErr != nil && resp.StatusCode == http.StatusOK:
		return unavailable, fmt.Errorf("payment service returned malformed body: %w", decodeErr)
	default:
		return unavailable, fmt.Errorf("payment service returned %d (%s)", resp.StatusCode, body.Status)
	}
}
