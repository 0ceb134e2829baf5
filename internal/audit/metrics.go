package audit

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the audit collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RecordsWritten prometheus.Counter
	WriteFailures  prometheus.Counter
	Unserializable *prometheus.CounterVec
	BatchSize      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_change_records_written_total",
			Help: "Change records persisted to the audit store.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_batch_write_failures_total",
			Help: "Audit batches that failed to persist.",
		}),
		Unserializable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_unserializable_values_total",
			Help: "Field values replaced by the unserializable marker.",
		}, []string{"entity"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_batch_size",
			Help:    "Change records per persisted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RecordsWritten, m.WriteFailures, m.Unserializable, m.BatchSize)
	}
	return m
}

func (m *Metrics) written(n int) {
	if m == nil {
		return
	}
	m.RecordsWritten.Add(float64(n))
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

func (m *Metrics) unserializable(entity string) {
	if m == nil {
		return
	}
	m.Unserializable.WithLabelValues(entity).Inc()
}
