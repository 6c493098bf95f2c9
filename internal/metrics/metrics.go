// Package metrics exposes Prometheus collectors for the docverify service.
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
	acquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_acquisitions_total",
			Help: "Completed acquisitions, labeled by document source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_failures_total",
			Help: "Classified acquisition failures, labeled by category.",
		},
		[]string{"category"},
	)

	supersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docverify_superseded_total",
			Help: "Acquisitions cancelled because a newer request for the same key arrived.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docverify_fetch_duration_seconds",
			Help:    "Duration of network fetch attempts, labeled by stage.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_fetch_bytes_total",
			Help: "Document bytes fetched from the network, labeled by site.",
		},
		[]string{"site"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_cache_lookups_total",
			Help: "Content cache lookups, labeled by result.",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docverify_cache_evictions_total",
			Help: "Entries evicted from the content cache to honor its byte budget.",
		},
	)

	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docverify_cache_entries",
			Help: "Entries currently held by the content cache.",
		},
	)

	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docverify_cache_bytes",
			Help: "Payload bytes currently held by the content cache.",
		},
	)

	readabilityDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_readability_decisions_total",
			Help: "Readability verdicts, labeled by decision.",
		},
		[]string{"decision"},
	)

	proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverify_proxy_requests_total",
			Help: "Requests served by the proxy intermediary, labeled by result code.",
		},
		[]string{"code"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docverify_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docverify_rate_limit_delays_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL for use as a label.
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

// ObserveAcquisition records a finished acquisition. An empty source means
// the acquisition failed before any bytes were obtained.
func ObserveAcquisition(source string, ok bool) {
	if source == "" {
		source = "none"
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	acquisitionsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveFailure increments the failure counter for category.
func ObserveFailure(category string) {
	failuresTotal.WithLabelValues(category).Inc()
}

// ObserveSuperseded counts an acquisition discarded in favor of a newer one.
func ObserveSuperseded() {
	supersededTotal.Inc()
}

// ObserveFetch records one network attempt.
func ObserveFetch(stage, rawURL string, bytesFetched int, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCacheEvictions adds n evictions.
func ObserveCacheEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// SetCacheUsage publishes the current cache size.
func SetCacheUsage(entries int, bytes int64) {
	cacheEntries.Set(float64(entries))
	cacheBytes.Set(float64(bytes))
}

// ObserveReadability counts a readability decision.
func ObserveReadability(decision string) {
	readabilityDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveProxyRequest counts a request handled by the proxy intermediary.
func ObserveProxyRequest(code string) {
	proxyRequestsTotal.WithLabelValues(code).Inc()
}

// SetBreakerState publishes the numeric state of a named circuit breaker.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}
