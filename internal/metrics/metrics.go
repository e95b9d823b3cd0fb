// Package metrics exposes Prometheus collectors for the crawl engine and its
// status server.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	proxyFailuresTotal         *prometheus.CounterVec
	checkpointsTotal           *prometheus.CounterVec
	robotsFallbacksTotal       *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemirror_items_total",
				Help: "Items handled by a pipeline phase, labeled by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemirror_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		proxyFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemirror_proxy_failures_total",
				Help: "Proxy trials that produced no response, labeled by proxy.",
			},
			[]string{"proxy"},
		)

		checkpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemirror_checkpoints_total",
				Help: "Registry checkpoints written, labeled by phase.",
			},
			[]string{"phase"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemirror_robots_fallbacks_total",
				Help: "robots.txt probes that timed out and fell back to allow-all, labeled by site.",
			},
			[]string{"site"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitemirror_queue_depth",
				Help: "Items waiting in the current phase queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitemirror_active_workers",
				Help: "Number of workers currently handling an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemirror_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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
	Init()
	return promhttp.Handler()
}

// ObserveItem counts one item outcome for phase.
func ObserveItem(phase, outcome string) {
	Init()
	itemsTotal.WithLabelValues(phase, outcome).Inc()
}

// ObserveBytes adds fetched body bytes for the site of rawURL.
func ObserveBytes(rawURL string, n int64) {
	if n <= 0 {
		return
	}
	Init()
	bytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(n))
}

// ObserveProxyFailure counts a proxy trial without a response.
func ObserveProxyFailure(proxyKey string) {
	Init()
	proxyFailuresTotal.WithLabelValues(proxyKey).Inc()
}

// ObserveCheckpoint counts a registry checkpoint.
func ObserveCheckpoint(phase string) {
	Init()
	checkpointsTotal.WithLabelValues(phase).Inc()
}

// ObserveRobotsFallback counts a robots.txt probe that gave up on rawURL.
func ObserveRobotsFallback(rawURL string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// SetQueueDepth records the pending queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
