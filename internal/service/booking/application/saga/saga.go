package saga

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

type Option func(*BookingSaga)

func WithHoldTTL(ttl time.Duration) Option {
	return func(s *BookingSaga) { s.holdTTL = ttl }
}

// WithChargePolicy 单次扣款超时、最多尝试次数和退避基数
func WithChargePolicy(timeout time.Duration, attempts int, backoff time.Duration) Option {
	return func(s *BookingSaga) {
		s.chargeTimeout = timeout
		s.chargeAttempts = attempts
		s.chargeBackoff = backoff
	}
}

// WithAwaitTimeout 重复请求等待进行中 saga 的最长时间
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *BookingSaga) { s.awaitTimeout = d }
}

func WithNotifier(n port.OutcomeNotifier) Option {
	return func(s *BookingSaga) { s.notifier = n }
}

func WithAdmissionPolicy(p port.AdmissionPolicy) Option {
	return func(s *BookingSaga) { s.policy = p }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *BookingSaga) { s.tracer = t }
}

// BookingSaga 编排 占座 -> 扣款 -> 确认，任一步失败时执行补偿。
// 同一个幂等 key 只会执行一次，重复请求得到同一个结果。
type BookingSaga struct {
	reservations Reservations
	payments     port.PaymentGateway
	records      Records
	notifier     port.OutcomeNotifier
	policy       port.AdmissionPolicy
	tracer       trace.Tracer

	holdTTL        time.Duration
	chargeTimeout  time.Duration
	chargeAttempts int
	chargeBackoff  time.Duration
	awaitTimeout   time.Duration
}

func NewBookingSaga(reservations Reservations, payments port.PaymentGateway, records Records, opts ...Option) *BookingSaga {
	s := &BookingSaga{
		reservations:   reservations,
		payments:       payments,
		records:        records,
		tracer:         otel.Tracer("booking-saga"),
		holdTTL:        10 * time.Minute,
		chargeTimeout:  5 * time.Second,
		chargeAttempts: 3,
		chargeBackoff:  200 * time.Millisecond,
		awaitTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book 执行一次预订。返回的 error 只表示请求本身无效或基础设施故障（此时记录保持 PENDING，由恢复流程处理）；
// 业务失败通过 Result.Status 表达。
func (s *BookingSaga) Book(ctx context.Context, req BookingRequest) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "saga.Book")
	defer span.End()
	span.SetAttributes(
		attribute.String("idempotency.key", req.IdempotencyKey),
		attribute.String("event.id", req.EventID),
		attribute.Int("seats", req.Seats),
	)

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if s.policy != nil {
		if err := s.policy.Admit(ctx, port.AdmissionInput{
			EventID:          req.EventID,
			Seats:            req.Seats,
			IdempotencyKey:   req.IdempotencyKey,
			PaymentReference: req.PaymentReference,
		}); err != nil {
			span.RecordError(err)
			return Result{}, err
		}
	}

	rec, created, err := s.records.Begin(ctx, req.IdempotencyKey, req.Fingerprint())
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if !created {
		return s.replay(ctx, span, rec)
	}

	start := time.Now()
	bc := &BookingContext{
		Ctx:          ctx,
		Request:      req,
		Tracer:       s.tracer,
		Reservations: s.reservations,
		Records:      s.records,
		Payments:     s.payments,
	}
	logger.Ctx(ctx).Info().Str("idempotency_key", req.IdempotencyKey).Str("event_id", req.EventID).
		Int("seats", req.Seats).Msg("Starting booking saga")

	chainErr := s.buildChain().Handle(bc)

	// 后续的补偿和结果落库不能被调用方的取消打断
	detached := context.WithoutCancel(ctx)

	if errors.Is(chainErr, errResolvedElsewhere) {
		bc.TriggerCompensation(detached)
		final, err := s.records.Get(detached, req.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		return ResultFromRecord(final), nil
	}

	outcome := classify(chainErr, bc)
	if chainErr != nil {
		span.RecordError(chainErr)
		span.SetStatus(codes.Error, "Booking saga failed")
		logger.Ctx(ctx).Warn().Err(chainErr).Str("idempotency_key", req.IdempotencyKey).
			Str("reason", string(outcome.Reason)).Msg("Booking saga failed, compensating")
		bc.TriggerCompensation(detached)
	}

	final, err := s.records.Finish(detached, req.IdempotencyKey, outcome)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("Failed to persist saga outcome")
		return Result{}, err
	}

	result := ResultFromRecord(final)
	metrics.SagaOutcomes.WithLabelValues(string(result.Status), string(result.Reason)).Inc()
	metrics.SagaDuration.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("saga.status", string(result.Status)))

	s.notify(detached, req, final)
	return result, nil
}

func (s *BookingSaga) replay(ctx context.Context, span trace.Span, rec domain.SagaRecord) (Result, error) {
	metrics.SagaReplays.Inc()
	span.AddEvent("Replaying existing idempotency record")
	if !rec.Status.IsTerminal() {
		var err error
		rec, err = s.records.Await(ctx, rec.Key, s.awaitTimeout)
		if err != nil {
			return Result{}, err
		}
	}
	return ResultFromRecord(rec), nil
}

func (s *BookingSaga) buildChain() Handler {
	chain := NewReserveHandler(s.holdTTL)
	chain.SetNext(NewChargeHandler(s.chargeTimeout, s.chargeAttempts, s.chargeBackoff)).
		SetNext(new(ConfirmHandler))
	return chain
}

func (s *BookingSaga) notify(ctx context.Context, req BookingRequest, rec domain.SagaRecord) {
	if s.notifier == nil {
		return
	}
	event := domain.BookingOutcomeEvent{
		TraceID:        trace.SpanContextFromContext(ctx).TraceID().String(),
		IdempotencyKey: rec.Key,
		EventID:        req.EventID,
		Seats:          req.Seats,
		Status:         string(ResultFromRecord(rec).Status),
		BookingID:      rec.BookingID,
		Reason:         string(rec.Reason),
		FinishedAt:     rec.FinishedAt,
	}
	if err := s.notifier.PublishOutcome(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("idempotency_key", rec.Key).Msg("Failed to publish booking outcome")
	}
}

// classify 把链路错误映射为终态
func classify(err error, bc *BookingContext) domain.Outcome {
	switch {
	case err == nil:
		return domain.Succeeded(bc.BookingID)
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return domain.Failed(domain.ReasonInsufficientCapacity)
	case errors.Is(err, ErrPaymentDeclined):
		return domain.Failed(domain.ReasonDeclined)
	case errors.Is(err, ErrPaymentUnavailable):
		return domain.Failed(domain.ReasonUnavailable)
	case errors.Is(err, context.Canceled):
		return domain.Failed(domain.ReasonCancelled)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Failed(domain.ReasonTimeout)
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrEventQuarantined):
		return domain.Failed(domain.ReasonEventUnavailable)
	default:
		return domain.Failed(domain.ReasonInternal)
	}
}
