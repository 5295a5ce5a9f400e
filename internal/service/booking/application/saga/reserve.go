package saga

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/service/booking/domain"
)

// errResolvedElsewhere 记录已被恢复流程写入终态，本次执行放弃
var errResolvedElsewhere = errors.New("saga record resolved by another actor")

// ReserveHandler 负责占座步骤，成功后注册释放 hold 的补偿。
type ReserveHandler struct {
	NextHandler
	ttl time.Duration
}

func NewReserveHandler(ttl time.Duration) *ReserveHandler {
	return &ReserveHandler{ttl: ttl}
}

func (h *ReserveHandler) Handle(bc *BookingContext) error {
	ctx, span := bc.Tracer.Start(bc.Ctx, "saga.Reserve")
	defer span.End()

	req := bc.Request
	span.SetAttributes(
		attribute.String("event.id", req.EventID),
		attribute.Int("seats", req.Seats),
	)

	amount, err := bc.Reservations.Quote(ctx, req.EventID, req.Seats)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Quote failed")
		return err
	}

	hold, err := bc.Reservations.Reserve(ctx, req.EventID, req.Seats, h.ttl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Seat reservation failed")
		return err
	}
	bc.Hold = hold
	bc.AmountCents = amount
	span.SetAttributes(attribute.String("hold.id", hold.ID))

	bc.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := bc.Tracer.Start(compCtx, "saga.compensation.ReleaseHold")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.String("hold.id", hold.ID))

		if err := bc.Reservations.ReleaseHold(compCtx, hold.ID); err != nil {
			// 已被清扫过期的 hold 会返回 ErrInvalidState，座位已经退回
			compSpan.RecordError(err)
			if !errors.Is(err, domain.ErrInvalidState) {
				compSpan.SetStatus(codes.Error, "Release hold failed")
				logger.Ctx(compCtx).Error().Err(err).Str("hold_id", hold.ID).Msg("CRITICAL: compensation failed to release hold")
			}
		}
	})

	// 先记下 hold，崩溃恢复依赖它判断结果
	attached, err := bc.Records.AttachHold(ctx, req.IdempotencyKey, hold.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !attached {
		span.AddEvent("Saga record already terminal, abandoning")
		return errResolvedElsewhere
	}

	span.AddEvent("Seats held")
	return h.executeNext(bc)
}
