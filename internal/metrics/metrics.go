// Package metrics exposes sync signals as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

const namespace = "storesync"

// Verify interface compliance
var _ driven.SyncMetrics = (*Metrics)(nil)

// Metrics implements driven.SyncMetrics on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	records       *prometheus.CounterVec
	pages         *prometheus.CounterVec
	lockReclaims  *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	tasksConsumed *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of finished sync runs.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"entity_type", "outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records upserted by entity type.",
		}, []string{"entity_type"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pages_total",
			Help:      "Upstream pages processed by entity type.",
		}, []string{"entity_type"}),
		lockReclaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_lock_reclaims_total",
			Help:      "Expired locks taken over from crashed runners.",
		}, []string{"entity_type"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_decisions_total",
			Help:      "Scheduler decisions by entity type.",
		}, []string{"entity_type", "decision"}),
		tasksConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Tasks consumed by workers by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs,
		m.runDuration,
		m.records,
		m.pages,
		m.lockReclaims,
		m.decisions,
		m.tasksConsumed,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RunFinished(entity domain.EntityType, outcome string, records int, seconds float64) {
	m.runs.WithLabelValues(string(entity), outcome).Inc()
	m.runDuration.WithLabelValues(string(entity), outcome).Observe(seconds)
	if records > 0 {
		m.records.WithLabelValues(string(entity)).Add(float64(records))
	}
}

func (m *Metrics) PageProcessed(entity domain.EntityType, records int) {
	m.pages.WithLabelValues(string(entity)).Inc()
}

func (m *Metrics) LockReclaimed(entity domain.EntityType) {
	m.lockReclaims.WithLabelValues(string(entity)).Inc()
}

func (m *Metrics) SchedulingDecision(entity domain.EntityType, decision domain.SchedulingDecision) {
	m.decisions.WithLabelValues(string(entity), string(decision)).Inc()
}

// TaskConsumed counts a task handled by a worker ("ack", "nack" or "skip").
func (m *Metrics) TaskConsumed(result string) {
	m.tasksConsumed.WithLabelValues(result).Inc()
}
