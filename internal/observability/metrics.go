// Package observability collects Prometheus metrics for the control
// plane.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlascms/atlas/internal/identity"
)

// Metrics aggregates the Prometheus registry and application metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginFailures   prometheus.Counter
	sseConnections  prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics. cacheStats, when
// non-nil, is sampled on scrape for the permission cache gauges.
func NewMetrics(cacheStats func() identity.Stats) *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	loginFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_login_failures_total",
		Help: "Failed login attempts.",
	})
	sseConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_event_stream_connections",
		Help: "Live event stream sinks.",
	})
	registry.MustRegister(requests, duration, loginFailures, sseConnections)

	if cacheStats != nil {
		registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "atlas_authz_cache_size",
				Help: "Entries currently held by the permission cache.",
			}, func() float64 { return float64(cacheStats().Size) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "atlas_authz_cache_hits_total",
				Help: "Permission cache hits.",
			}, func() float64 { return float64(cacheStats().Hits) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "atlas_authz_cache_misses_total",
				Help: "Permission cache misses.",
			}, func() float64 { return float64(cacheStats().Misses) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "atlas_authz_cache_hit_rate",
				Help: "Permission cache hit rate since start.",
			}, func() float64 { return cacheStats().HitRate }),
		)
	}

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		loginFailures:   loginFailures,
		sseConnections:  sseConnections,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// LoginFailure increments the failed-login counter.
func (m *Metrics) LoginFailure() {
	if m != nil {
		m.loginFailures.Inc()
	}
}

// SetStreamConnections records the live sink count.
func (m *Metrics) SetStreamConnections(count int) {
	if m != nil {
		m.sseConnections.Set(float64(count))
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Middleware records request metrics per chi route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the event stream working behind the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
