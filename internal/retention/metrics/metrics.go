package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the retention scheduler.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	Skipped       prometheus.Counter
	Failures      prometheus.Counter
	TickDuration  prometheus.Histogram
	LastTick      prometheus.Gauge
	TicksSkipped  *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_retention_transitions_total",
			Help: "Lifecycle transitions committed, by action",
		}, []string{"action"}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "carekeeper_retention_transition_conflicts_total",
			Help: "Accounts skipped because another writer changed them first",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "carekeeper_retention_account_failures_total",
			Help: "Accounts whose transition failed during a tick",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "carekeeper_retention_tick_duration_seconds",
			Help:    "Duration of a full scheduler tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		LastTick: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carekeeper_retention_last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick",
		}),
		TicksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_retention_ticks_skipped_total",
			Help: "Ticks not run, by cause",
		}, []string{"cause"}), // cause: "in_progress", "lock_held", "lock_error"
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_retention_notifications_total",
			Help: "Lifecycle notifications by template and result",
		}, []string{"template", "result"}),
	}
}

func (m *Metrics) IncTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncSkipped() {
	if m != nil {
		m.Skipped.Inc()
	}
}

func (m *Metrics) IncFailure() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) ObserveTick(d time.Duration, finished time.Time) {
	if m != nil {
		m.TickDuration.Observe(d.Seconds())
		m.LastTick.Set(float64(finished.Unix()))
	}
}

func (m *Metrics) IncTickSkipped(cause string) {
	if m != nil {
		m.TicksSkipped.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) IncNotification(template string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Notifications.WithLabelValues(template, result).Inc()
}
