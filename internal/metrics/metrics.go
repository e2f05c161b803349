// Package metrics exports scheduler measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/facility-scheduler/internal/scheduler"
)

const namespace = "scheduler"

// Metrics holds the scheduler collectors. It implements the application
// Observer.
type Metrics struct {
	registry *prometheus.Registry

	CalendarProjections prometheus.Counter
	ProjectionDuration  prometheus.Histogram
	ProjectedWorkItems  prometheus.Histogram
	ProjectedOccurrence prometheus.Histogram

	ExecutionsCreated    *prometheus.CounterVec
	MaterializationRaces prometheus.Counter
	StatusTransitions    *prometheus.CounterVec

	FrequenciesUnparsed prometheus.Counter
	FrequencyDrifts     prometheus.Counter

	AuditDropped  prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
	HTTPRateLimit prometheus.Counter
}

// New registers the scheduler collectors on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry registers the scheduler collectors on registry.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	m := &Metrics{registry: registry}

	m.CalendarProjections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_projections_total",
		Help:      "Total calendar projections served",
	})
	m.ProjectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "calendar_projection_duration_seconds",
		Help:      "Time to project one calendar view",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
	m.ProjectedWorkItems = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "calendar_work_items",
		Help:      "Work items considered per calendar projection",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	m.ProjectedOccurrence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "calendar_occurrences",
		Help:      "Occurrences returned per calendar projection",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
	})

	m.ExecutionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_created_total",
		Help:      "Execution records created, by source",
	}, []string{"source"})
	m.MaterializationRaces = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "materialization_races_total",
		Help:      "Materializations that lost the insert race for their slot",
	})
	m.StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Applied status changes",
	}, []string{"from", "to"})

	m.FrequenciesUnparsed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frequency_unparsed_total",
		Help:      "Frequency specs that fell back to the daily default",
	})
	m.FrequencyDrifts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frequency_cache_drift_total",
		Help:      "Cached intervals that disagreed with the parsed frequency",
	})

	m.AuditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Audit entries discarded because the queue was full",
	})
	m.HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})
	m.HTTPRateLimit = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_rate_limited_total",
		Help:      "Mutating requests rejected by the rate limiter",
	})

	registry.MustRegister(
		m.CalendarProjections,
		m.ProjectionDuration,
		m.ProjectedWorkItems,
		m.ProjectedOccurrence,
		m.ExecutionsCreated,
		m.MaterializationRaces,
		m.StatusTransitions,
		m.FrequenciesUnparsed,
		m.FrequencyDrifts,
		m.AuditDropped,
		m.HTTPRequests,
		m.HTTPRateLimit,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CalendarProjected(workItems, occurrences int, elapsed time.Duration) {
	m.CalendarProjections.Inc()
	m.ProjectionDuration.Observe(elapsed.Seconds())
	m.ProjectedWorkItems.Observe(float64(workItems))
	m.ProjectedOccurrence.Observe(float64(occurrences))
}

func (m *Metrics) ExecutionCreated(source string) {
	m.ExecutionsCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) MaterializationRace() {
	m.MaterializationRaces.Inc()
}

func (m *Metrics) StatusChanged(from, to scheduler.Status) {
	m.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) FrequencyUnparsed() {
	m.FrequenciesUnparsed.Inc()
}

func (m *Metrics) FrequencyDrift() {
	m.FrequencyDrifts.Inc()
}

// AuditEntryDropped counts one discarded audit entry.
func (m *Metrics) AuditEntryDropped() {
	m.AuditDropped.Inc()
}

// RequestServed counts one HTTP response.
func (m *Metrics) RequestServed(route string, code int) {
	m.HTTPRequests.WithLabelValues(route, statusClass(code)).Inc()
}

// RequestThrottled counts one rate-limited request.
func (m *Metrics) RequestThrottled() {
	m.HTTPRateLimit.Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
