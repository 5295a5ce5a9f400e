package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

// Reservations saga 对占座的依赖
type Reservations interface {
	Reserve(ctx context.Context, eventID string, seats int, ttl time.Duration) (domain.Hold, error)
	ConfirmHold(ctx context.Context, holdID, bookingID string) (domain.Hold, error)
	ReleaseHold(ctx context.Context, holdID string) error
	Quote(ctx context.Context, eventID string, seats int) (int64, error)
}

// Records saga 对幂等记录的依赖
type Records interface {
	Begin(ctx context.Context, key, fingerprint string) (domain.SagaRecord, bool, error)
	AttachHold(ctx context.Context, key, holdID string) (bool, error)
	Finish(ctx context.Context, key string, outcome domain.Outcome) (domain.SagaRecord, error)
	Await(ctx context.Context, key string, timeout time.Duration) (domain.SagaRecord, error)
	Get(ctx context.Context, key string) (domain.SagaRecord, error)
}

// BookingContext 在责任链中传递一次预订的上下文
type BookingContext struct {
	Ctx     context.Context
	Request BookingRequest
	Tracer  trace.Tracer

	Reservations Reservations
	Records      Records
	Payments     port.PaymentGateway

	// 各步骤的产出
	Hold        domain.Hold
	AmountCents int64
	Charge      port.ChargeResult
	BookingID   string

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 补偿按注册的相反顺序执行
func (c *BookingContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *BookingContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().Str("idempotency_key", c.Request.IdempotencyKey).
		Msgf("Executing %d compensation functions.", len(c.compensations))
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(bc *BookingContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(bc *BookingContext) error {
	if h.next != nil {
		return h.next.Handle(bc)
	}
	return nil
}
