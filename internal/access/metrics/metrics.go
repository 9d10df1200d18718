package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the access module.
type Metrics struct {
	// Decisions by outcome, reason and resource type
	Decisions *prometheus.CounterVec

	// Collaborator lookup failures by source
	LookupFailures *prometheus.CounterVec

	EvaluateLatency prometheus.Histogram
}

// New registers the access metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_access_decisions_total",
			Help: "Total access decisions by outcome, reason and resource type",
		}, []string{"outcome", "reason", "resource_type"}),

		LookupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_access_lookup_failures_total",
			Help: "Relationship and consent lookups that failed during evaluation",
		}, []string{"source"}), // source: "relationship", "consent"

		EvaluateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carekeeper_access_evaluate_duration_seconds",
			Help:    "Duration of access evaluation including collaborator lookups",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(allowed bool, reason, resourceType string) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.Decisions.WithLabelValues(outcome, reason, resourceType).Inc()
}

func (m *Metrics) IncrementLookupFailure(source string) {
	if m != nil {
		m.LookupFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
