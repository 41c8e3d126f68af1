package infrastructure

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the reconciliation
// service. It satisfies operations.PassMetrics so the pass manager can
// record executions without importing this package.
type Metrics struct {
	registry *prometheus.Registry

	passesInFlight prometheus.Gauge
	passesTotal    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	stagesTotal    *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
}

// NewMetrics builds and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		passesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "circflow_passes_in_flight",
			Help: "Number of reconciliation passes currently running.",
		}),
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circflow_passes_total",
			Help: "Total reconciliation passes by final status.",
		}, []string{"status"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circflow_pass_duration_seconds",
			Help:    "Wall-clock duration of reconciliation passes.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circflow_stages_total",
			Help: "Total stage executions by stage and status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circflow_stage_duration_seconds",
			Help:    "Wall-clock duration of individual stages.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circflow_http_requests_total",
			Help: "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "circflow_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "circflow_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
	}

	registry.MustRegister(
		m.passesInFlight,
		m.passesTotal,
		m.passDuration,
		m.stagesTotal,
		m.stageDuration,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
	)

	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PassStarted records the start of a reconciliation pass.
func (m *Metrics) PassStarted() {
	m.passesInFlight.Inc()
}

// PassFinished records a completed pass with its final status.
func (m *Metrics) PassFinished(status string, duration time.Duration) {
	m.passesInFlight.Dec()
	m.passesTotal.WithLabelValues(status).Inc()
	m.passDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StageFinished records a single stage execution.
func (m *Metrics) StageFinished(stageID, status string, duration time.Duration) {
	m.stagesTotal.WithLabelValues(stageID, status).Inc()
	m.stageDuration.WithLabelValues(stageID).Observe(duration.Seconds())
}

// RequestStarted marks an HTTP request as in flight.
func (m *Metrics) RequestStarted() {
	m.httpRequestsInFlight.Inc()
}

// RequestFinished records a served HTTP request. The route should be
// the chi route pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) RequestFinished(method, route string, statusCode int, duration time.Duration) {
	m.httpRequestsInFlight.Dec()
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
