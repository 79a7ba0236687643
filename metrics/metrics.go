// Package metrics bundles the Prometheus collectors for an ETL run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetcher and the pipeline.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	FetchErrorsTotal *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	RecordsTotal     *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_fetch_requests_total",
			Help: "Total HTTP requests issued for the source document.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "etl_fetch_duration_seconds",
			Help:    "HTTP latency of source document requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_fetch_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_document_cache_lookups_total",
			Help: "Document cache lookups by result.",
		},
		[]string{"result"},
	)
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etl_phase_duration_seconds",
			Help:    "Duration of each pipeline phase.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_records_total",
			Help: "Records produced per pipeline stage.",
		},
		[]string{"stage"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etl_runs_total",
			Help: "Pipeline runs by final state.",
		},
		[]string{"state"},
	)

	registry.MustRegister(requests, requestDuration, fetchErrors, cacheLookups, phaseDuration, records, runs)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		FetchErrorsTotal: fetchErrors,
		CacheLookups:     cacheLookups,
		PhaseDuration:    phaseDuration,
		RecordsTotal:     records,
		RunsTotal:        runs,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the fetch errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache counts a document cache lookup: hit, miss, or error.
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObservePhase records how long a pipeline phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// AddRecords counts records produced by a stage.
func (m *Metrics) AddRecords(stage string, n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(stage).Add(float64(n))
}

// IncRun counts a finished run by its final state.
func (m *Metrics) IncRun(state string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
}
