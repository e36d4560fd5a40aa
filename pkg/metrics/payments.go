package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks the checkout and reconciliation flow.
type PaymentMetrics struct {
	checkouts       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	gateway         *prometheus.HistogramVec
}

// NewPaymentMetrics registers payment metrics; a nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "reconciliations_total",
		Help:      "Reconciliation outcomes by source (callback, query, sweeper).",
	}, []string{"source", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of M-Pesa gateway calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"operation", "result"})
	reg.MustRegister(checkouts, reconciliations, gateway)
	return &PaymentMetrics{
		checkouts:       checkouts,
		reconciliations: reconciliations,
		gateway:         gateway,
	}
}

func (m *PaymentMetrics) IncCheckout(result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncReconciliation(source, outcome string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) ObserveGateway(operation string, err error, duration time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), result).Observe(duration.Seconds())
}
