// Package metrics exposes Prometheus collectors for the search service.
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
	searchesTotal              *prometheus.CounterVec
	searchDurationSeconds      *prometheus.HistogramVec
	cacheRequestsTotal         *prometheus.CounterVec
	portalUp                   prometheus.Gauge
	portalProbeDurationSeconds prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Total keyword-set searches, labeled by status (ok, empty, failed, cached).",
			},
			[]string{"status"},
		)

		searchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "Histogram of end-to-end search latencies, labeled by status.",
				Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_cache_requests_total",
				Help: "Cache operations, labeled by op (get, put) and outcome.",
			},
			[]string{"op", "outcome"},
		)

		portalUp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_up",
				Help: "Whether the last portal probe succeeded (1) or failed (0).",
			},
		)

		portalProbeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "portal_probe_duration_seconds",
				Help:    "Histogram of portal probe latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by the portal rate limiter, labeled by host.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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

// ObserveSearch records one completed search call. All observers are no-ops
// until Init has run, so library code never has to care about wiring order.
func ObserveSearch(status string, duration time.Duration) {
	if searchesTotal == nil {
		return
	}
	searchesTotal.WithLabelValues(status).Inc()
	searchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveCache records one cache operation outcome.
func ObserveCache(op, outcome string) {
	if cacheRequestsTotal == nil {
		return
	}
	cacheRequestsTotal.WithLabelValues(op, outcome).Inc()
}

// SetPortalUp flips the portal reachability gauge.
func SetPortalUp(up bool) {
	if portalUp == nil {
		return
	}
	if up {
		portalUp.Set(1)
		return
	}
	portalUp.Set(0)
}

// ObserveProbe records one portal probe round trip.
func ObserveProbe(duration time.Duration) {
	if portalProbeDurationSeconds == nil {
		return
	}
	portalProbeDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting for the portal budget.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
