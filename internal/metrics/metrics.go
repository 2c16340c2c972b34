// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRequestsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	crawlerBytesTotal          *prometheus.CounterVec
	frontierTransitionsTotal   *prometheus.CounterVec
	accessResultsTotal         *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	crawlDelayWaitSeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of transport attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_requests_total",
				Help: "Total number of executor calls, labeled by final outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of executor call latencies including retries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		frontierTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_transitions_total",
				Help: "Total number of frontier task transitions, labeled by transition.",
			},
			[]string{"transition"},
		)

		accessResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_access_results_total",
				Help: "Total number of access results written, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlDelayWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_crawl_delay_wait_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// Middleware records request counts and latencies for the API router.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// ObserveFetchAttempt counts one transport attempt.
func ObserveFetchAttempt(rawURL, outcome string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveFetch records the final outcome and latency of an executor call.
func ObserveFetch(rawURL, outcome string, duration time.Duration) {
	fetchRequestsTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveBytes adds fetched payload bytes for the URL's site.
func ObserveBytes(rawURL string, n int) {
	if n > 0 {
		crawlerBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
	}
}

// ObserveTransition counts a frontier task transition.
func ObserveTransition(transition string) {
	frontierTransitionsTotal.WithLabelValues(transition).Inc()
}

// ObserveTransitions counts n transitions at once.
func ObserveTransitions(transition string, n int) {
	if n > 0 {
		frontierTransitionsTotal.WithLabelValues(transition).Add(float64(n))
	}
}

// ObserveAccessResult counts a ledger write for the given status.
func ObserveAccessResult(status string) {
	accessResultsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveCrawlDelay records the duration of a politeness wait.
func ObserveCrawlDelay(domain string, duration time.Duration) {
	crawlDelayWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
