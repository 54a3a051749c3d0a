// Package metrics exposes Prometheus collectors for the scan pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

type Metrics struct {
	ScansStarted    prometheus.Counter
	PhaseOutcomes   *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	ExternalErrors  *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	BreakerChanges  *prometheus.CounterVec
	SweptSessions   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	BooksDetected   prometheus.Histogram
	Recommendations prometheus.Histogram
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "shelfscan_scans_started_total",
			Help: "Scan sessions created",
		}),
		PhaseOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_phase_outcomes_total",
			Help: "Pipeline phase results",
		}, []string{"phase", "outcome"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelfscan_phase_duration_seconds",
			Help:    "Wall-clock time spent per pipeline phase",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"phase"}),
		ExternalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_external_errors_total",
			Help: "Failed calls to external services",
		}, []string{"service"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_metadata_cache_lookups_total",
			Help: "Metadata cache lookups by result",
		}, []string{"result"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shelfscan_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		BreakerChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"name", "from_state", "to_state"}),
		SweptSessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_swept_sessions_total",
			Help: "Sessions reconciled by the sweeper",
		}, []string{"action"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfscan_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shelfscan_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BooksDetected: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfscan_books_detected",
			Help:    "Books persisted per successful detection",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		}),
		Recommendations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfscan_recommendations_generated",
			Help:    "Recommendations persisted per completed session",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		}),
	}
}

func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.ScansStarted.Inc()
}

// Phase records the outcome and duration of one pipeline phase.
func (m *Metrics) Phase(phase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PhaseOutcomes.WithLabelValues(phase, outcome).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *Metrics) ExternalError(service string) {
	if m == nil {
		return
	}
	m.ExternalErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) Detected(n int) {
	if m == nil {
		return
	}
	m.BooksDetected.Observe(float64(n))
}

func (m *Metrics) Recommended(n int) {
	if m == nil {
		return
	}
	m.Recommendations.Observe(float64(n))
}

func (m *Metrics) Swept(failed, deleted int64) {
	if m == nil {
		return
	}
	m.SweptSessions.WithLabelValues("failed").Add(float64(failed))
	m.SweptSessions.WithLabelValues("deleted").Add(float64(deleted))
}

func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// BreakerStateChanged matches providers.StateFunc.
func (m *Metrics) BreakerStateChanged(name string, from, to gobreaker.State) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
	m.BreakerChanges.WithLabelValues(name, from.String(), to.String()).Inc()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
