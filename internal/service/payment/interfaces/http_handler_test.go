package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/service/booking/domain/port"
	"boxoffice/internal/service/booking/infrastructure/adapter"
	"boxoffice/internal/service/payment/application"
)

func newServer(t *testing.T, rules application.FaultRules) *httptest.Server {
	t.Helper()
	p := application.NewProcessor(rules, application.WithRandom(func() float64 { return 0.9 }))
	mux := http.NewServeMux()
	NewPaymentHandler(p).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChargeStatusCodes(t *testing.T) {
	srv := newServer(t, application.FaultRules{})

	cases := []struct {
		name string
		body any
		want int
	}{
		{"paid", chargeRequest{AmountCents: 100, Reference: "r1"}, http.StatusOK},
		{"replay", chargeRequest{AmountCents: 100, Reference: "r1"}, http.StatusOK},
		{"amount mismatch", chargeRequest{AmountCents: 200, Reference: "r1"}, http.StatusConflict},
		{"declined", chargeRequest{AmountCents: 100, Reference: application.DeclinePrefix + "r2"}, http.StatusPaymentRequired},
		{"unavailable", chargeRequest{AmountCents: 100, Reference: application.UnavailablePrefix + "r3"}, http.StatusServiceUnavailable},
		{"invalid", chargeRequest{AmountCents: 0, Reference: "r4"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/charges", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	resp, err := http.Get(srv.URL + "/charges/r1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var c application.Charge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, application.ChargePaid, c.Status)

	resp2, err := http.Get(srv.URL + "/charges/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

// booking-service 的支付适配器与本服务的约定
func TestPaymentAdapterContract(t *testing.T) {
	srv := newServer(t, application.FaultRules{})
	client := httpclient.NewClient(noop.NewTracerProvider().Tracer("test"), httpclient.StaticResolver(srv.URL))
	gw := adapter.NewPaymentHTTPAdapter(client, serviceName)
	ctx := context.Background()

	res, err := gw.Charge(ctx, 2500, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, port.ChargePaid, res.Status)
	assert.NotEmpty(t, res.TransactionID)

	again, err := gw.Charge(ctx, 2500, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, res.TransactionID, again.TransactionID)

	res, err = gw.Charge(ctx, 2500, application.DeclinePrefix+"booking-2")
	require.NoError(t, err)
	assert.Equal(t, port.ChargeDeclined, res.Status)
	assert.Equal(t, "card declined", res.DeclineReason)

	res, err = gw.Charge(ctx, 2500, application.UnavailablePrefix+"booking-3")
	assert.Error(t, err)
	assert.Equal(t, port.ChargeUnavailable, res.Status)
}
