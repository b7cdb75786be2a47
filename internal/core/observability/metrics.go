// Package observability holds the Prometheus collectors shared by the service.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes recorded by the viewport controller.
const (
	QueryIssued     = "issued"
	QueryApplied    = "applied"
	QuerySuperseded = "superseded"
	QueryFailed     = "failed"
	QueryGated      = "gated"
	QueryNotReady   = "not_ready"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of bin source calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "op"},
	)

	viewportQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_queries_total",
			Help: "Viewport settle handling by outcome.",
		},
		[]string{"outcome"},
	)

	markersSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "markers_skipped_total",
			Help: "Bin rows dropped because they had no usable coordinates.",
		},
	)

	geolocationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geolocation_results_total",
			Help: "User location lookups by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "map_sessions_active",
			Help: "Open interactive map sessions.",
		},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cell cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Bin change events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_keys_deleted_total",
			Help: "Cache keys removed by change events.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		viewportQueries, markersSkipped, geolocationResults, sessionsActive,
		cacheOpTotal, redisOpDuration, cacheResults,
		invalidations, invalidatedKeys, buildInfo,
	}
}

// Init registers the collectors with reg. With enabled=false the collectors
// still count but are not exported.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream, op string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, op).Observe(durationSeconds)
}

func IncViewportQuery(outcome string) {
	viewportQueries.WithLabelValues(outcome).Inc()
}

func AddMarkersSkipped(n int) {
	if n > 0 {
		markersSkipped.Add(float64(n))
	}
}

func IncGeolocation(outcome string) {
	geolocationResults.WithLabelValues(outcome).Inc()
}

func SessionOpened() { sessionsActive.Inc() }
func SessionClosed() { sessionsActive.Dec() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func ObserveInvalidation(op string, keys int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidations.WithLabelValues(op, result).Inc()
	if keys > 0 {
		invalidatedKeys.Add(float64(keys))
	}
}

func IncInvalidationSkipped(op, reason string) {
	invalidations.WithLabelValues(op, reason).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
