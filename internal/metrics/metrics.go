// Package metrics exposes Prometheus counters for the booking engine.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the engine counters.
type Metrics struct {
	lifecycleTotal *prometheus.CounterVec
	paymentsTotal  *prometheus.CounterVec
	sweepTotal     *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
}

// New registers the counters on reg, or on the default registerer if reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasch",
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Appointment lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasch",
			Subsystem: "payments",
			Name:      "total",
			Help:      "Payments and refunds by method and outcome",
		}, []string{"kind", "method", "outcome"}),
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wasch",
			Subsystem: "autorefund",
			Name:      "items_total",
			Help:      "Appointments visited by the auto-refund sweep by outcome",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wasch",
			Subsystem: "autorefund",
			Name:      "run_duration_seconds",
			Help:      "Duration of one auto-refund sweep",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lifecycleTotal, m.paymentsTotal, m.sweepTotal, m.sweepDuration)
	return m
}

// ObserveLifecycle counts one book, use, cancel or rebook attempt.
func (m *Metrics) ObserveLifecycle(operation, outcome string) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(operation, outcome).Inc()
}

// ObservePayment counts one pay or refund call against a method.
func (m *Metrics) ObservePayment(kind, method, outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(kind, method, outcome).Inc()
}

func (m *Metrics) ObserveSweepItem(outcome string) {
	if m == nil {
		return
	}
	m.sweepTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSweepDuration(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
