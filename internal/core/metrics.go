package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for ingestion.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commits      *prometheus.CounterVec
	rows         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	analyticsOps *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghgledger",
			Subsystem: "import",
			Name:      "commits_total",
			Help:      "Commits by adapter and final job status.",
		}, []string{"adapter", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghgledger",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Source rows by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ghgledger",
			Subsystem: "import",
			Name:      "commit_duration_seconds",
			Help:      "Wall time of a commit.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"adapter"}),
		analyticsOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghgledger",
			Subsystem: "analytics",
			Name:      "requests_total",
			Help:      "Analytics calls by operation.",
		}, []string{"op"}),
		reg: reg,
	}
	m.register(m.commits, m.rows, m.duration, m.analyticsOps)
	return m
}

// register adds collectors owned by other components, such as the commit
// limiter, to the same registry.
func (m *Metrics) register(cs ...prometheus.Collector) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(cs...)
}

func (m *Metrics) commitFinished(adapter string, status JobStatus, elapsed time.Duration, r *ImportReport) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(adapter, string(status)).Inc()
	m.duration.WithLabelValues(adapter).Observe(elapsed.Seconds())
	if r == nil {
		return
	}
	m.rows.WithLabelValues(adapter, "inserted").Add(float64(r.Inserted))
	m.rows.WithLabelValues(adapter, "replaced").Add(float64(r.Replaced))
	m.rows.WithLabelValues(adapter, "duplicate").Add(float64(r.Duplicates))
	m.rows.WithLabelValues(adapter, "skipped").Add(float64(r.Skipped))
	m.rows.WithLabelValues(adapter, "invalid").Add(float64(r.Invalid))
}

func (m *Metrics) analytics(op string) {
	if m == nil {
		return
	}
	m.analyticsOps.WithLabelValues(op).Inc()
}
