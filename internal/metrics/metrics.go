// Package metrics exposes Prometheus collectors for the linkbeacon service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal           *prometheus.CounterVec
	cacheEventsTotal           *prometheus.CounterVec
	iconTierTotal              *prometheus.CounterVec
	probesTotal                *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkbeacon_resolutions_total",
				Help: "Total metadata resolutions, labeled by outcome (cached, resolved, degraded).",
			},
			[]string{"outcome"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkbeacon_cache_events_total",
				Help: "Total resolution cache events, labeled by event (hit, miss, put, invalidate).",
			},
			[]string{"event"},
		)

		iconTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkbeacon_icon_tier_total",
				Help: "Total icon resolutions, labeled by winning tier (brand, favicon, hint, avatar).",
			},
			[]string{"tier"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkbeacon_probes_total",
				Help: "Total health probes, labeled by resulting status.",
			},
			[]string{"status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkbeacon_fetch_duration_seconds",
				Help:    "Histogram of outbound fetch latencies, labeled by operation (metadata, probe, favicon).",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"op"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution increments the resolution counter for the given outcome.
func ObserveResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheEvent increments the cache event counter.
func ObserveCacheEvent(event string) {
	cacheEventsTotal.WithLabelValues(event).Inc()
}

// ObserveIconTier records which tier produced an icon.
func ObserveIconTier(tier string) {
	iconTierTotal.WithLabelValues(tier).Inc()
}

// ObserveProbe increments the probe counter for the resulting status.
func ObserveProbe(status string) {
	probesTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records the latency of one outbound fetch.
func ObserveFetch(op string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
