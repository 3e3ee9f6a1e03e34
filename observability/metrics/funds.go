package metrics

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FundsMetrics tracks encumbrance and settlement activity.
type FundsMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	released   *prometheus.CounterVec
	finalized  *prometheus.CounterVec
	escrowed   *prometheus.CounterVec
}

var (
	fundsOnce     sync.Once
	fundsRegistry *FundsMetrics
)

// NewFunds builds funds collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewFunds(reg prometheus.Registerer) *FundsMetrics {
	m := &FundsMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchangefunds",
			Subsystem: "protocol",
			Name:      "operations_total",
			Help:      "Protocol operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exchangefunds",
			Subsystem: "protocol",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution of protocol operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchangefunds",
			Subsystem: "settlement",
			Name:      "released_amount_total",
			Help:      "Value released from escrow segmented by payout role.",
		}, []string{"role"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchangefunds",
			Subsystem: "settlement",
			Name:      "exchanges_finalized_total",
			Help:      "Exchanges finalized segmented by outcome.",
		}, []string{"outcome"}),
		escrowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchangefunds",
			Subsystem: "encumbrance",
			Name:      "escrowed_amount_total",
			Help:      "Value moved into escrow segmented by operation.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.released, m.finalized, m.escrowed)
	}
	return m
}

// Funds returns the process-wide funds metrics registered with the default
// registry.
func Funds() *FundsMetrics {
	fundsOnce.Do(func() {
		fundsRegistry = NewFunds(prometheus.DefaultRegisterer)
	})
	return fundsRegistry
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

// toFloat converts an amount for counters. Precision loss above 2^53 is
// accepted for monitoring.
func toFloat(amount *big.Int) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

// Observe records the outcome and duration of one protocol operation.
func (m *FundsMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := label(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordEscrowed adds amount moved into escrow by operation.
func (m *FundsMetrics) RecordEscrowed(operation string, amount *big.Int) {
	if m == nil {
		return
	}
	m.escrowed.WithLabelValues(label(operation)).Add(toFloat(amount))
}

// RecordRelease counts a finalized exchange and the amount released per role.
func (m *FundsMetrics) RecordRelease(outcome string, byRole map[string]*big.Int) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(label(outcome)).Inc()
	for role, amount := range byRole {
		m.released.WithLabelValues(label(role)).Add(toFloat(amount))
	}
}
