package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain/port"
)

var (
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
)

// ChargeHandler 扣款。只有 Unavailable 会重试，同一个 reference 保证不会重复扣款。
type ChargeHandler struct {
	NextHandler
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

func NewChargeHandler(timeout time.Duration, attempts int, backoff time.Duration) *ChargeHandler {
	if attempts < 1 {
		attempts = 1
	}
	return &ChargeHandler{timeout: timeout, attempts: attempts, backoff: backoff}
}

func (h *ChargeHandler) Handle(bc *BookingContext) error {
	ctx, span := bc.Tracer.Start(bc.Ctx, "saga.Charge")
	defer span.End()

	reference := bc.Request.reference()
	span.SetAttributes(
		attribute.String("payment.reference", reference),
		attribute.Int64("payment.amount_cents", bc.AmountCents),
	)

	for attempt := 1; attempt <= h.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
		res, err := bc.Payments.Charge(attemptCtx, bc.AmountCents, reference)
		cancel()

		if err == nil {
			switch res.Status {
			case port.ChargePaid:
				metrics.ChargeAttempts.WithLabelValues(string(port.ChargePaid)).Inc()
				bc.Charge = res
				span.AddEvent("Payment captured", trace.WithAttributes(attribute.String("payment.transaction_id", res.TransactionID)))
				return h.executeNext(bc)
			case port.ChargeDeclined:
				metrics.ChargeAttempts.WithLabelValues(string(port.ChargeDeclined)).Inc()
				span.SetStatus(codes.Error, "Payment declined")
				return fmt.Errorf("%w: %s", ErrPaymentDeclined, res.DeclineReason)
			}
		}

		// 调用方取消时不再重试；此时未确认的扣款视为没有发生
		if cerr := ctx.Err(); cerr != nil {
			span.RecordError(cerr)
			return cerr
		}

		metrics.ChargeAttempts.WithLabelValues(string(port.ChargeUnavailable)).Inc()
		logger.Ctx(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Str("payment_reference", reference).
			Msg("Payment gateway unavailable")
		span.AddEvent("Payment attempt unavailable", trace.WithAttributes(attribute.Int("attempt", attempt)))

		if attempt < h.attempts {
			select {
			case <-time.After(h.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	span.SetStatus(codes.Error, "Payment gateway unavailable")
	return ErrPaymentUnavailable
}
