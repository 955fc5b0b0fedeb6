package accred

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricTransitions      = "accred_transitions_total"
	MetricTransitionErrors = "accred_transition_errors_total"
	MetricScans            = "accred_scans_total"
	MetricTokensMinted     = "accred_tokens_minted_total"
)

// Metrics contains Prometheus metrics for the accreditation core.
// All operations are thread-safe.
type Metrics struct {
	transitions      *prometheus.CounterVec
	transitionErrors *prometheus.CounterVec
	scans            *prometheus.CounterVec
	tokensMinted     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransitions,
			Help: "Total number of successful lifecycle transitions by action",
		}, []string{"action"}),
		transitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransitionErrors,
			Help: "Total number of failed lifecycle operations by action and kind",
		}, []string{"action", "kind"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricScans,
			Help: "Total number of verification attempts by outcome and reason",
		}, []string{"outcome", "reason"}),
		tokensMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTokensMinted,
			Help: "Total number of verification tokens minted",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.transitions,
		m.transitionErrors,
		m.scans,
		m.tokensMinted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition increments the transition counter for an action.
func (m *Metrics) RecordTransition(action Action) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action)).Inc()
}

// RecordTransitionError increments the error counter for an action.
func (m *Metrics) RecordTransitionError(action Action, kind string) {
	if m == nil {
		return
	}
	m.transitionErrors.WithLabelValues(string(action), kind).Inc()
}

// RecordScan increments the scan counter for an outcome/reason pair.
func (m *Metrics) RecordScan(outcome string, reason DenyReason) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome, string(reason)).Inc()
}

// RecordTokenMinted increments the minted-token counter.
func (m *Metrics) RecordTokenMinted() {
	if m == nil {
		return
	}
	m.tokensMinted.Inc()
}
