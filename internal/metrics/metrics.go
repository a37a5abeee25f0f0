// Package metrics exposes Prometheus collectors for the scout service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scoutRunsTotal             *prometheus.CounterVec
	scoutPostingsTotal         *prometheus.CounterVec
	scoutProbesTotal           *prometheus.CounterVec
	scoutQueueDepth            prometheus.Gauge
	scoutRunDurationSeconds    prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scoutRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_runs_total",
				Help: "Total pipeline runs, labeled by mode and outcome.",
			},
			[]string{"mode", "status"},
		)

		scoutPostingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_postings_total",
				Help: "Postings seen per source and pipeline stage.",
			},
			[]string{"source", "stage"},
		)

		scoutProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_probes_total",
				Help: "Liveness probes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scoutQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_queue_depth",
				Help: "Number of runs currently waiting in the queue.",
			},
		)

		scoutRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scout_run_duration_seconds",
				Help:    "Histogram of full pipeline run durations.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records the outcome of one pipeline run.
func ObserveRun(mode, status string, duration time.Duration) {
	scoutRunsTotal.WithLabelValues(mode, status).Inc()
	scoutRunDurationSeconds.Observe(duration.Seconds())
}

// ObservePostings adds to the posting counter for a source and stage.
func ObservePostings(source, stage string, count int) {
	if count > 0 {
		scoutPostingsTotal.WithLabelValues(source, stage).Add(float64(count))
	}
}

// ObserveProbe increments the probe counter for the given outcome.
func ObserveProbe(site, outcome string) {
	scoutProbesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// SetQueueDepth reports the current queue length.
func SetQueueDepth(n int) {
	scoutQueueDepth.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
