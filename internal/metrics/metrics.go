// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal                    *prometheus.CounterVec
	crawlerBytesTotal                    *prometheus.CounterVec
	crawlerQueuePushesTotal              *prometheus.CounterVec
	crawlerFilterRejectionsTotal         prometheus.Counter
	crawlerFetchErrorsTotal              *prometheus.CounterVec
	crawlerSessionsTotal                 *prometheus.CounterVec
	crawlerActiveWorkers                 prometheus.Gauge
	crawlerRateLimitDelaysSeconds        *prometheus.HistogramVec
	crawlerRobotsFallbacksTotal          *prometheus.CounterVec
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of access results recorded, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes stored, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerQueuePushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_queue_pushes_total",
				Help: "Frontier pushes, labeled by outcome (queued or duplicate).",
			},
			[]string{"outcome"},
		)

		crawlerFilterRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_filter_rejections_total",
				Help: "Popped entries skipped because the URL filter rejected them.",
			},
		)

		crawlerFetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_errors_total",
				Help: "Entries dropped because fetching or transforming failed, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sessions_total",
				Help: "Total number of crawl sessions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a queue entry.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerRobotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallbacks_total",
				Help: "robots.txt probes that gave up and allowed everything, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, "local" for file URLs and
// "unknown" for anything unparsable.
func SanitizeSite(rawURL string) string {
	if strings.HasPrefix(rawURL, "file:") {
		return "local"
	}
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

// ObservePage records one stored access result.
func ObservePage(site string, status string, bytesStored int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesStored > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesStored))
	}
}

// ObservePush records a frontier push outcome.
func ObservePush(queued bool) {
	outcome := "duplicate"
	if queued {
		outcome = "queued"
	}
	crawlerQueuePushesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFilterRejection counts an entry the URL filter rejected.
func ObserveFilterRejection() {
	crawlerFilterRejectionsTotal.Inc()
}

// ObserveFetchError counts a dropped entry.
func ObserveFetchError(kind string) {
	crawlerFetchErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveSession counts a finished session.
func ObserveSession(outcome string) {
	crawlerSessionsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(reason string) {
	crawlerRobotsFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records one admin API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
