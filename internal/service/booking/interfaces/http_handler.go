package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/logger"
	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/application/saga"
	"boxoffice/internal/service/booking/domain"
)

const (
	serviceName          = "booking-service"
	idempotencyKeyHeader = "Idempotency-Key"

	defaultPageSize = 50
	maxPageSize     = 200
)

// BookingHandler 封装了 booking 服务的 HTTP 处理器
type BookingHandler struct {
	saga    *saga.BookingSaga
	ledger  *application.InventoryLedger
	records *application.IdempotencyStore
	tracer  trace.Tracer
}

func NewBookingHandler(s *saga.BookingSaga, ledger *application.InventoryLedger, records *application.IdempotencyStore) *BookingHandler {
	return &BookingHandler{saga: s, ledger: ledger, records: records, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *BookingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /bookings", h.book)
	mux.HandleFunc("GET /bookings", h.listBookings)
	mux.HandleFunc("GET /bookings/{key}", h.getBooking)
	mux.HandleFunc("POST /events/{id}/inventory", h.openInventory)
	mux.HandleFunc("GET /events/{id}/inventory", h.getInventory)
}

// book 业务失败（拒付、余量不足等）同样返回 200，结果在 status 字段里
func (h *BookingHandler) book(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "booking-service.BookHandler")
	defer span.End()

	var req saga.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if key := r.Header.Get(idempotencyKeyHeader); key != "" {
		if req.IdempotencyKey != "" && req.IdempotencyKey != key {
			writeError(w, http.StatusBadRequest, "idempotency key in header and body differ")
			return
		}
		req.IdempotencyKey = key
	}
	span.SetAttributes(attribute.String("idempotency.key", req.IdempotencyKey))

	res, err := h.saga.Book(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Ctx(ctx).Error().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("Booking failed")
		}
		span.RecordError(err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BookingHandler) getBooking(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !rec.Status.IsTerminal() {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"idempotency_key": rec.Key,
			"status":          string(domain.SagaPending),
		})
		return
	}
	writeJSON(w, http.StatusOK, saga.ResultFromRecord(rec))
}

type bookingItem struct {
	saga.Result
	FinishedAt time.Time `json:"finished_at"`
}

type bookingPage struct {
	Bookings []bookingItem `json:"bookings"`
	// NextBefore 作为下一页的 before 参数，没有更多数据时为空
	NextBefore string `json:"next_before,omitempty"`
}

// listBookings GET /bookings?limit=50&before=<RFC3339>，按完成时间倒序分页
func (h *BookingHandler) listBookings(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxPageSize))
			return
		}
		limit = n
	}
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = t
	}

	recs, err := h.records.ListFinished(r.Context(), before, limit)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("List bookings failed")
		writeError(w, statusFor(err), err.Error())
		return
	}
	page := bookingPage{Bookings: make([]bookingItem, 0, len(recs))}
	for _, rec := range recs {
		page.Bookings = append(page.Bookings, bookingItem{Result: saga.ResultFromRecord(rec), FinishedAt: rec.FinishedAt})
	}
	if len(recs) == limit {
		page.NextBefore = recs[len(recs)-1].FinishedAt.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, page)
}

type openInventoryRequest struct {
	TotalCapacity  int   `json:"total_capacity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

func (h *BookingHandler) openInventory(w http.ResponseWriter, r *http.Request) {
	var req openInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	snap, err := h.ledger.Open(r.Context(), r.PathValue("id"), req.TotalCapacity, req.UnitPriceCents)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *BookingHandler) getInventory(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSeats),
		errors.Is(err, domain.ErrInvalidIdempotencyKey),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRequestRejected):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrEventNotFound), errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEventExists), errors.Is(err, domain.ErrBookingInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
