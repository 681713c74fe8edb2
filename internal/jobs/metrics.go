package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	imbalanced prometheus.Gauge
	synced     *prometheus.CounterVec
	overdue    prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetImbalanced publishes how many ledger-effective entries do not balance.
func (m *Metrics) SetImbalanced(count int) {
	if m == nil {
		return
	}
	m.imbalanced.Set(float64(count))
}

// AddSynced counts external records staged for a resource.
func (m *Metrics) AddSynced(resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.synced.WithLabelValues(resource).Add(float64(count))
}

// AddOverdue counts invoices moved to OVERDUE.
func (m *Metrics) AddOverdue(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.overdue.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pampa_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pampa_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pampa_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	imbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pampa_ledger_imbalanced_entries",
		Help: "Ledger-effective journal entries whose debits and credits differ, as of the last integrity check.",
	})
	synced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pampa_external_records_synced_total",
		Help: "External platform records staged, by resource.",
	}, []string{"resource"})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pampa_invoices_marked_overdue_total",
		Help: "Invoices moved to OVERDUE by the overdue job.",
	})
	registerer.MustRegister(runs, failures, duration, imbalanced, synced, overdue)
	return &Metrics{runs: runs, failures: failures, duration: duration, imbalanced: imbalanced, synced: synced, overdue: overdue}
}
