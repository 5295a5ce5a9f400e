// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "boxoffice"

var (
	// SagaOutcomes 按最终结果统计 saga 数量
	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "outcomes_total",
		Help:      "Terminal booking saga outcomes by status and reason.",
	}, []string{"status", "reason"})

	SagaDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "duration_seconds",
		Help:      "Wall time of a booking saga from begin to finish.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	SagaReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "replays_total",
		Help:      "Booking requests answered from an existing idempotency record.",
	})

	ChargeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "charge_attempts_total",
		Help:      "Payment charge attempts by result.",
	}, []string{"result"})

	HoldTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hold",
		Name:      "transitions_total",
		Help:      "Hold state transitions by target state.",
	}, []string{"state"})

	// InvalidHoldTransitions 非法状态迁移（ErrInvalidState），需要告警
	InvalidHoldTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hold",
		Name:      "invalid_transitions_total",
		Help:      "Rejected hold transitions by operation.",
	}, []string{"operation"})

	LedgerQuarantines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "quarantines_total",
		Help:      "Events quarantined after a ledger invariant violation.",
	})

	RecoveryResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "resolved_total",
		Help:      "Pending saga records resolved by the recovery pass.",
	}, []string{"status"})

	RecordsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "idempotency",
		Name:      "purged_total",
		Help:      "Terminal idempotency records deleted after the retention window.",
	})

	// ProcessedCharges 支付服务侧的处理结果，重放的请求不计入
	ProcessedCharges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "processor",
		Name:      "charges_total",
		Help:      "Charges processed by the payment service by status.",
	}, []string{"status"})
)
