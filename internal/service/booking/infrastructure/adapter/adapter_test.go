package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/pkg/mq"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/domain/port"
)

func newPaymentAdapter(t *testing.T, handler http.HandlerFunc) *PaymentHTTPAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := httpclient.NewClient(noop.NewTracerProvider().Tracer("test"), httpclient.StaticResolver(srv.URL))
	return NewPaymentHTTPAdapter(client, "payment-service")
}

func reply(status int, body ChargeResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestPaymentAdapterPaid(t *testing.T) {
	var got ChargeRequest
	a := newPaymentAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chargePath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ChargeResponse{Status: "PAID", TransactionID: "tx-9"})
	})

	res, err := a.Charge(context.Background(), 4500, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, port.ChargePaid, res.Status)
	assert.Equal(t, "tx-9", res.TransactionID)
	assert.Equal(t, ChargeRequest{AmountCents: 4500, Reference: "ref-1"}, got)
}

func TestPaymentAdapterDeclined(t *testing.T) {
	a := newPaymentAdapter(t, reply(http.StatusPaymentRequired, ChargeResponse{Status: "DECLINED", DeclineReason: "card expired"}))

	res, err := a.Charge(context.Background(), 100, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, port.ChargeDeclined, res.Status)
	assert.Equal(t, "card expired", res.DeclineReason)
}

func TestPaymentAdapterUnavailable(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": reply(http.StatusServiceUnavailable, ChargeResponse{Status: "UNAVAILABLE"}),
		"bad body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
		"unknown status": reply(http.StatusOK, ChargeResponse{Status: "MAYBE"}),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			a := newPaymentAdapter(t, h)
			res, err := a.Charge(context.Background(), 100, "ref-1")
			assert.Error(t, err)
			assert.Equal(t, port.ChargeUnavailable, res.Status)
		})
	}
}

func TestPaymentAdapterTimeout(t *testing.T) {
	a := newPaymentAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := a.Charge(ctx, 100, "ref-1")
	assert.Error(t, err)
	assert.Equal(t, port.ChargeUnavailable, res.Status)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestNotificationAdapterPublishesOutcome(t *testing.T) {
	w := &fakeWriter{}
	a := &NotificationKafkaAdapter{writer: w}

	err := a.PublishOutcome(context.Background(), domain.BookingOutcomeEvent{
		IdempotencyKey: "k1", EventID: "e1", Seats: 2, Status: "SUCCEEDED", BookingID: "b1",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "k1", string(w.msgs[0].Key))

	var got domain.BookingOutcomeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "b1", got.BookingID)

	w.err = errors.New("broker down")
	assert.Error(t, a.PublishOutcome(context.Background(), domain.BookingOutcomeEvent{IdempotencyKey: "k2"}))

	require.NoError(t, a.Close())
	assert.True(t, w.closed)
}

func TestPickLevel(t *testing.T) {
	assert.Equal(t, "delay_topic_5s", pickLevel(mq.DelayLevels, 0).Topic)
	assert.Equal(t, "delay_topic_5s", pickLevel(mq.DelayLevels, 5*time.Second).Topic)
	assert.Equal(t, "delay_topic_1m", pickLevel(mq.DelayLevels, 6*time.Second).Topic)
	assert.Equal(t, "delay_topic_10m", pickLevel(mq.DelayLevels, 10*time.Minute).Topic)
	assert.Equal(t, "delay_topic_10m", pickLevel(mq.DelayLevels, time.Hour).Topic)
}

func TestSchedulerRoutesByRemainingTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	writers := map[string]*fakeWriter{}
	a := &SchedulerKafkaAdapter{
		realTopic: "hold-expiry-check-topic",
		levels:    mq.DelayLevels,
		now:       func() time.Time { return now },
		newWriter: func(topic string) messageWriter {
			w := &fakeWriter{}
			writers[topic] = w
			return w
		},
		writers: make(map[string]messageWriter),
	}
	ctx := context.Background()

	require.NoError(t, a.ScheduleHoldExpiry(ctx, domain.Hold{ID: "h1", EventID: "e1", ExpiresAt: now.Add(30 * time.Second)}))
	require.NoError(t, a.ScheduleHoldExpiry(ctx, domain.Hold{ID: "h2", EventID: "e1", ExpiresAt: now.Add(45 * time.Second)}))
	require.NoError(t, a.ScheduleHoldExpiry(ctx, domain.Hold{ID: "h3", EventID: "e1", ExpiresAt: now.Add(8 * time.Minute)}))

	require.Len(t, writers, 2)
	require.Len(t, writers["delay_topic_1m"].msgs, 2)
	require.Len(t, writers["delay_topic_10m"].msgs, 1)

	msg := writers["delay_topic_1m"].msgs[0]
	assert.Equal(t, "h1", string(msg.Key))
	assert.Equal(t, "hold-expiry-check-topic", mq.HeaderValue(msg.Headers, mq.HeaderRealTopic))
	assert.Equal(t, "2026-03-01T20:00:30Z", mq.HeaderValue(msg.Headers, mq.HeaderDelayTimestamp))

	var event domain.HoldExpiryCheckEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "h1", event.HoldID)

	require.NoError(t, a.Close())
	assert.True(t, writers["delay_topic_10m"].closed)
}

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "hold-1")
	require.NoError(t, err)

	// 其他 key 不受影响
	other, err := l.Lock(ctx, "hold-2")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "hold-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "hold-1")
		if assert.NoError(t, err) {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	unlock() // 重复释放无副作用

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not handed over")
	}
}

func TestLocalLockerForgetsIdleKeys(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}
