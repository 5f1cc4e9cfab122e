// Package metrics exposes Prometheus collectors for the allotment checker service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	allotmentChecksTotal          *prometheus.CounterVec
	upstreamDurationSeconds       *prometheus.HistogramVec
	upstreamRateLimitDelaySeconds *prometheus.HistogramVec
	rateLimitDeniedTotal          prometheus.Counter
	rateLimitWindows              prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		allotmentChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allotment_checks_total",
				Help: "Total number of allotment checks, labeled by registrar and status.",
			},
			[]string{"registrar", "status"},
		)

		upstreamDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allotment_upstream_duration_seconds",
				Help:    "Histogram of registrar fetch latencies, labeled by registrar and terminal phase.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"registrar", "phase"},
		)

		upstreamRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allotment_upstream_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the per-registrar outbound limiter.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"registrar"},
		)

		rateLimitDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "allotment_rate_limit_denied_total",
				Help: "Total number of checks rejected by the inbound rate governor.",
			},
		)

		rateLimitWindows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "allotment_rate_limit_windows",
				Help: "Number of client identifiers currently tracked by the in-process governor.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck counts one finished check.
func ObserveCheck(registrar, status string) {
	Init()
	if registrar == "" {
		registrar = "none"
	}
	allotmentChecksTotal.WithLabelValues(registrar, status).Inc()
}

// ObserveUpstream records how long a registrar fetch took and where it ended.
func ObserveUpstream(registrar, phase string, duration time.Duration) {
	Init()
	upstreamDurationSeconds.WithLabelValues(registrar, phase).Observe(duration.Seconds())
}

// ObserveUpstreamDelay records time spent waiting on the outbound limiter.
func ObserveUpstreamDelay(registrar string, duration time.Duration) {
	Init()
	upstreamRateLimitDelaySeconds.WithLabelValues(registrar).Observe(duration.Seconds())
}

// ObserveRateLimitDenied counts one governor rejection.
func ObserveRateLimitDenied() {
	Init()
	rateLimitDeniedTotal.Inc()
}

// SetRateLimitWindows sets the tracked-identifier gauge.
func SetRateLimitWindows(n int) {
	Init()
	rateLimitWindows.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
