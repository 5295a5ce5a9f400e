package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/service/booking/application"
	"boxoffice/internal/service/booking/application/saga"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
	"boxoffice/internal/service/booking/infrastructure/memory"
)

type gatewayFunc func(ctx context.Context, amountCents int64, reference string) (port.ChargeResult, error)

func (f gatewayFunc) Charge(ctx context.Context, amountCents int64, reference string) (port.ChargeResult, error) {
	return f(ctx, amountCents, reference)
}

func newServer(t *testing.T, gw port.PaymentGateway) (*httptest.Server, *application.IdempotencyStore) {
	t.Helper()
	ledger := application.NewInventoryLedger(memory.NewLedgerStore())
	reservations := application.NewReservationManager(ledger, memory.NewHoldRepository())
	idem := application.NewIdempotencyStore(memory.NewSagaRecordRepository())
	s := saga.NewBookingSaga(reservations, gw, idem)

	mux := http.NewServeMux()
	NewBookingHandler(s, ledger, idem).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, idem
}

func do(t *testing.T, method, url string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func paidGateway() port.PaymentGateway {
	return gatewayFunc(func(context.Context, int64, string) (port.ChargeResult, error) {
		return port.ChargeResult{Status: port.ChargePaid, TransactionID: "tx"}, nil
	})
}

func TestBookingFlowOverHTTP(t *testing.T) {
	srv, _ := newServer(t, paidGateway())

	resp, body := do(t, http.MethodPost, srv.URL+"/events/e1/inventory", map[string]any{"total_capacity": 5, "unit_price_cents": 2000}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 5, body["available"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/events/e1/inventory", map[string]any{"total_capacity": 5}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/bookings",
		map[string]any{"event_id": "e1", "seats": 2}, map[string]string{"Idempotency-Key": "k1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCEEDED", body["status"])
	bookingID := body["booking_id"]
	assert.NotEmpty(t, bookingID)

	resp, body = do(t, http.MethodGet, srv.URL+"/bookings/k1", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bookingID, body["booking_id"])

	resp, body = do(t, http.MethodPost, srv.URL+"/bookings",
		map[string]any{"event_id": "e1", "seats": 4, "idempotency_key": "k2"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_CAPACITY", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/events/e1/inventory", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["confirmed"])
	assert.EqualValues(t, 3, body["available"])
}

func TestListBookingsOverHTTP(t *testing.T) {
	srv, _ := newServer(t, paidGateway())
	_, _ = do(t, http.MethodPost, srv.URL+"/events/e1/inventory", map[string]any{"total_capacity": 5, "unit_price_cents": 100}, nil)
	for _, key := range []string{"k1", "k2"} {
		resp, _ := do(t, http.MethodPost, srv.URL+"/bookings", map[string]any{"event_id": "e1", "seats": 1, "idempotency_key": key}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/bookings?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["bookings"].([]any)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	assert.Equal(t, "k2", first["idempotency_key"])
	assert.Equal(t, "SUCCEEDED", first["status"])
	assert.NotEmpty(t, first["finished_at"])
	next, _ := body["next_before"].(string)
	require.NotEmpty(t, next)

	resp, body = do(t, http.MethodGet, srv.URL+"/bookings?limit=1&before="+url.QueryEscape(next), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items = body["bookings"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "k1", items[0].(map[string]any)["idempotency_key"])

	resp, body = do(t, http.MethodGet, srv.URL+"/bookings", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bookings"], 2)
	assert.Nil(t, body["next_before"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/bookings?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/bookings?before=yesterday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookingErrorsOverHTTP(t *testing.T) {
	srv, idem := newServer(t, paidGateway())
	_, _ = do(t, http.MethodPost, srv.URL+"/events/e1/inventory", map[string]any{"total_capacity": 5}, nil)

	resp, _ := do(t, http.MethodPost, srv.URL+"/bookings", map[string]any{"event_id": "e1", "seats": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing idempotency key")

	resp, _ = do(t, http.MethodPost, srv.URL+"/bookings",
		map[string]any{"event_id": "e1", "seats": 1, "idempotency_key": "a"}, map[string]string{"Idempotency-Key": "b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/bookings", map[string]any{"event_id": "e1", "seats": 1, "idempotency_key": "k"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, srv.URL+"/bookings", map[string]any{"event_id": "e1", "seats": 2, "idempotency_key": "k"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/bookings/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, srv.URL+"/events/nope/inventory", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err := idem.Begin(context.Background(), "pending", "fp")
	require.NoError(t, err)
	resp, body := do(t, http.MethodGet, srv.URL+"/bookings/pending", nil, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrBookingInProgress))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrRequestRejected))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidSeats))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("db down")))
}
