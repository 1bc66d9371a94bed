package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinedtrack/attendance-api/pkg/breaker"
)

// MetricsService owns the Prometheus registry and the application metric
// families. All observation methods are nil-receiver safe so callers never
// have to guard against a disabled metrics pipeline.
type MetricsService struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	clockTransitions    *prometheus.CounterVec
	syncDriftMs         prometheus.Histogram
	breakerState        *prometheus.GaugeVec
	reconciliationTasks *prometheus.CounterVec
}

// NewMetricsService registers the attendance metric families.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	clockTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_clock_transitions_total",
		Help: "Clock-in/out attempts by operation and outcome",
	}, []string{"operation", "outcome"})

	syncDriftMs := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_sync_drift_milliseconds",
		Help:    "Absolute client clock drift observed on synchronized clock-ins",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000},
	})

	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Breaker position: 0 closed, 1 half-open, 2 open",
	}, []string{"breaker"})

	reconciliationTasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_reconciliation_tasks_total",
		Help: "Reconciliation write tasks by outcome",
	}, []string{"outcome"})

	registry.MustRegister(requestDuration, requestTotal, clockTransitions,
		syncDriftMs, breakerState, reconciliationTasks)

	return &MetricsService{
		registry:            registry,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		clockTransitions:    clockTransitions,
		syncDriftMs:         syncDriftMs,
		breakerState:        breakerState,
		reconciliationTasks: reconciliationTasks,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one completed request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// ObserveClockTransition records a clock-in or clock-out attempt outcome.
func (m *MetricsService) ObserveClockTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.clockTransitions.WithLabelValues(operation, outcome).Inc()
}

// ObserveSyncDrift records the absolute drift of a synchronized clock-in.
func (m *MetricsService) ObserveSyncDrift(driftMs int64) {
	if m == nil {
		return
	}
	if driftMs < 0 {
		driftMs = -driftMs
	}
	m.syncDriftMs.Observe(float64(driftMs))
}

// SetBreakerState publishes the numeric position of one breaker.
func (m *MetricsService) SetBreakerState(name string, state breaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

// ObserveReconciliation records the outcome of one reconciliation task.
func (m *MetricsService) ObserveReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliationTasks.WithLabelValues(outcome).Inc()
}
