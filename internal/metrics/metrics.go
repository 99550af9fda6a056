// Package metrics exposes Prometheus collectors for the fetch layer.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_http_attempts_total",
			Help: "Total number of HTTP attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	httpRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_http_retries_total",
			Help: "Total number of retries scheduled after a failed attempt, labeled by site.",
		},
		[]string{"site"},
	)

	courtesyDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_courtesy_delay_seconds",
			Help:    "Histogram of randomized delays drawn between requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of ceiling limiter wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_status_http_request_duration_seconds",
			Help:    "Latency of requests served by the status server.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_snapshots_total",
			Help: "Total number of page snapshots written, labeled by result.",
		},
		[]string{"result"},
	)
)

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

// ObserveAttempt counts one HTTP attempt.
func ObserveAttempt(rawURL, outcome string) {
	httpAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry(rawURL string) {
	httpRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveCourtesyDelay records a drawn inter-request delay.
func ObserveCourtesyDelay(delay time.Duration) {
	courtesyDelaySeconds.Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSnapshot counts a snapshot write by result ("ok" or "error").
func ObserveSnapshot(result string) {
	snapshotsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records one request served by the status server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(duration.Seconds())
}
