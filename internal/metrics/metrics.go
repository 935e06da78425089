// Package metrics exposes Prometheus collectors for the archiver.
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
	pagesTotal                 *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	savedFilesTotal            prometheus.Counter
	savedBytesTotal            prometheus.Counter
	httpErrorsTotal            *prometheus.CounterVec
	checkpointsTotal           prometheus.Counter
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	replayRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_total",
				Help: "Pages crawled in a browser tab, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetches_total",
				Help: "Direct fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		savedFilesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_saved_files_total",
				Help: "Entries written to the archive.",
			},
		)

		savedBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_saved_bytes_total",
				Help: "Bytes written to the archive.",
			},
		)

		httpErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_errors_total",
				Help: "Responses outside the archived status set, labeled by status code.",
			},
			[]string{"code"},
		)

		checkpointsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_checkpoints_total",
				Help: "Archive checkpoints flushed to disk.",
			},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Workers currently running, labeled by kind.",
			},
			[]string{"kind"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-origin rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_robots_fallback_total",
				Help: "robots.txt lookups answered with allow-all after repeated timeouts.",
			},
		)

		replayRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_replay_requests_total",
				Help: "Replay server requests, labeled by outcome.",
			},
			[]string{"outcome"},
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

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObservePage records a finished page crawl.
func ObservePage(rawURL string, err error) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(rawURL), status(err)).Inc()
}

// ObserveFetch records a finished direct fetch.
func ObserveFetch(rawURL string, err error) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeSite(rawURL), status(err)).Inc()
}

// ObserveSave records an archive write.
func ObserveSave(bytes int) {
	Init()
	savedFilesTotal.Inc()
	savedBytesTotal.Add(float64(bytes))
}

// ObserveHTTPError records a non-archivable status.
func ObserveHTTPError(code int) {
	Init()
	httpErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveCheckpoint records a flushed checkpoint.
func ObserveCheckpoint() {
	Init()
	checkpointsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback increments the robots allow-all fallback counter.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveReplay records how a replay request was answered.
func ObserveReplay(outcome string) {
	Init()
	replayRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
