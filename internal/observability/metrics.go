// Package observability exposes the Prometheus metrics of the catalog service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	contextBuilds   *prometheus.CounterVec
	probes          *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_moderation_transitions_total",
		Help: "Moderation and access request transitions by module, action and outcome.",
	}, []string{"module", "action", "outcome"})
	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_role_context_builds_total",
		Help: "Role context constructions by outcome.",
	}, []string{"outcome"})
	probes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_feed_probes_total",
		Help: "Dataset feed connectivity probes by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, transitions, builds, probes)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transitions:     transitions,
		contextBuilds:   builds,
		probes:          probes,
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

// Middleware records metrics for every HTTP request.
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

// ObserveTransition counts one moderation or access request transition.
func (m *Metrics) ObserveTransition(module, action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, action, outcome).Inc()
}

// ObserveContextBuild counts one role context construction.
func (m *Metrics) ObserveContextBuild(outcome string) {
	if m == nil {
		return
	}
	m.contextBuilds.WithLabelValues(outcome).Inc()
}

// ObserveProbe counts one feed probe result.
func (m *Metrics) ObserveProbe(reachable bool) {
	if m == nil {
		return
	}
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	m.probes.WithLabelValues(result).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
