package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Written         *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	WriteDuration   prometheus.Histogram
	Dropped         *prometheus.CounterVec
	BufferDepth     prometheus.Gauge
	CircuitOpen     prometheus.Gauge
	ExportedRecords prometheus.Counter
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Written: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_audit_records_written_total",
			Help: "Audit records persisted, by mode (mandatory or best_effort)",
		}, []string{"mode"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_audit_write_failures_total",
			Help: "Audit write failures, by mode",
		}, []string{"mode"}),
		WriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carekeeper_audit_mandatory_write_seconds",
			Help:    "Latency of synchronous audit writes",
			Buckets: prometheus.DefBuckets,
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carekeeper_audit_best_effort_dropped_total",
			Help: "Best-effort audit records dropped, by cause (buffer_full, circuit_open, write_failed)",
		}, []string{"cause"}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "carekeeper_audit_buffer_depth",
			Help: "Best-effort audit records waiting to be flushed",
		}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "carekeeper_audit_circuit_open",
			Help: "1 while the best-effort circuit breaker is open",
		}),
		ExportedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "carekeeper_audit_exported_records_total",
			Help: "Audit records produced to the archival topic",
		}),
	}
}

func (m *Metrics) incWritten(mode string) {
	if m != nil {
		m.Written.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) incWriteFailure(mode string) {
	if m != nil {
		m.WriteFailures.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) observeWrite(seconds float64) {
	if m != nil {
		m.WriteDuration.Observe(seconds)
	}
}

func (m *Metrics) incDropped(cause string) {
	if m != nil {
		m.Dropped.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) setBufferDepth(n int) {
	if m != nil {
		m.BufferDepth.Set(float64(n))
	}
}

func (m *Metrics) setCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
	} else {
		m.CircuitOpen.Set(0)
	}
}

// AddExported counts records produced by the archival exporter.
func (m *Metrics) AddExported(n int) {
	if m != nil {
		m.ExportedRecords.Add(float64(n))
	}
}
