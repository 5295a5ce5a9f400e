package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/service/payment/application"
)

const serviceName = "payment-service"

type chargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

type PaymentHandler struct {
	processor *application.Processor
	tracer    trace.Tracer
}

func NewPaymentHandler(processor *application.Processor) *PaymentHandler {
	return &PaymentHandler{processor: processor, tracer: otel.Tracer(serviceName)}
}

func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /charges", h.charge)
	mux.HandleFunc("GET /charges/{reference}", h.getCharge)
}

// charge PAID 返回 200，DECLINED 返回 402，处理器不可用返回 503
func (h *PaymentHandler) charge(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "payment-service.Charge")
	defer span.End()

	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	span.SetAttributes(
		attribute.String("payment.reference", req.Reference),
		attribute.Int64("payment.amount_cents", req.AmountCents),
	)

	c, err := h.processor.Charge(ctx, req.AmountCents, req.Reference)
	switch {
	case errors.Is(err, application.ErrInvalidCharge):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrAmountMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "Charge unavailable")
		logger.Ctx(ctx).Warn().Err(err).Str("reference", req.Reference).Msg("Charge unavailable")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case c.Status == application.ChargeDeclined:
		span.AddEvent("Charge declined", trace.WithAttributes(attribute.String("decline.reason", c.DeclineReason)))
		writeJSON(w, http.StatusPaymentRequired, c)
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *PaymentHandler) getCharge(w http.ResponseWriter, r *http.Request) {
	c, err := h.processor.Get(r.Context(), r.PathValue("reference"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
