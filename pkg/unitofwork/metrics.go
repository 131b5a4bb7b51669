package unitofwork

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the unit of work. A nil *Metrics
// records nothing.
type Metrics struct {
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	changes      *prometheus.CounterVec
	syncErrors   prometheus.Counter
	commits      *prometheus.CounterVec
	rollbacks    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "norm_loads_total",
			Help: "Total number of objects and collections loaded from storage",
		}, []string{"kind", "result"}),

		loadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "norm_load_duration_seconds",
			Help:    "Time spent loading objects and collections",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "norm_relation_changes_total",
			Help: "Total number of performed relation changes",
		}, []string{"kind"}),

		syncErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "norm_sync_errors_total",
			Help: "Total number of changes refused because an end-point was out of sync",
		}),

		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "norm_commits_total",
			Help: "Total number of commits",
		}, []string{"result"}),

		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "norm_rollbacks_total",
			Help: "Total number of rollbacks",
		}),
	}
}

// Load kinds
const (
	loadObject     = "object"
	loadCollection = "collection"
)

// Commit results
const (
	commitOK       = "ok"
	commitConflict = "conflict"
	commitError    = "error"
)

func (m *Metrics) loaded(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(kind, result).Inc()
	m.loadDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) changed(kind string) {
	if m != nil {
		m.changes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) syncError() {
	if m != nil {
		m.syncErrors.Inc()
	}
}

func (m *Metrics) committed(result string) {
	if m != nil {
		m.commits.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) rolledBack() {
	if m != nil {
		m.rollbacks.Inc()
	}
}
