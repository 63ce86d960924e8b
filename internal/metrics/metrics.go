// Package metrics exposes Prometheus collectors for the notice service.
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

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpRateLimitedTotal       prometheus.Counter
	upstreamFetchSeconds       *prometheus.HistogramVec
	refreshTotal               *prometheus.CounterVec
	refreshDurationSeconds     prometheus.Histogram
	refreshNotices             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		httpRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of requests rejected by the per-client rate limiter.",
			},
		)

		upstreamFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_fetch_duration_seconds",
				Help:    "Histogram of upstream notice fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notice_refresh_total",
				Help: "Total number of mirror refreshes, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		refreshDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notice_refresh_duration_seconds",
				Help:    "Histogram of mirror refresh durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		refreshNotices = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notice_refresh_notices",
				Help: "Number of notices written by the last successful refresh.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts one rejected request.
func ObserveRateLimited() {
	Init()
	httpRateLimitedTotal.Inc()
}

// ObserveUpstreamFetch records the duration of one upstream fetch.
func ObserveUpstreamFetch(outcome string, duration time.Duration) {
	Init()
	upstreamFetchSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRefresh records one refresh run. count is only applied on success.
func ObserveRefresh(mode, outcome string, count int, duration time.Duration) {
	Init()
	refreshTotal.WithLabelValues(mode, outcome).Inc()
	refreshDurationSeconds.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		refreshNotices.Set(float64(count))
	}
}
