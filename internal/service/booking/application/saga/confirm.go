package saga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"boxoffice/internal/pkg/logger"
)

// ConfirmHandler 支付成功后确认 hold。扣款已经发生，这一步不受调用方取消影响。
type ConfirmHandler struct {
	NextHandler
}

func (h *ConfirmHandler) Handle(bc *BookingContext) error {
	ctx, span := bc.Tracer.Start(context.WithoutCancel(bc.Ctx), "saga.Confirm")
	defer span.End()

	bookingID := uuid.NewString()
	hold, err := bc.Reservations.ConfirmHold(ctx, bc.Hold.ID, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Confirm hold failed after payment")
		// 钱已经扣了但座位没确认，需要对账/退款
		logger.Ctx(ctx).Error().Err(err).
			Str("hold_id", bc.Hold.ID).
			Str("payment_reference", bc.Request.reference()).
			Str("transaction_id", bc.Charge.TransactionID).
			Msg("CRITICAL: payment captured but hold could not be confirmed")
		return fmt.Errorf("confirm hold %s: %w", bc.Hold.ID, err)
	}

	bc.Hold = hold
	bc.BookingID = hold.BookingID
	span.SetAttributes(attribute.String("booking.id", hold.BookingID))
	span.AddEvent("Hold confirmed")
	return h.executeNext(bc)
}
