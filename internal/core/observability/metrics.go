package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
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
			Help:    "Latency of data service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "call", "outcome"},
	)

	datasetFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_fetch_total",
			Help: "Region hierarchy fetches by outcome.",
		},
		[]string{"outcome"},
	)

	statsResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionstats_results_total",
			Help: "Region statistic responses by part and outcome (applied, failed, stale).",
		},
		[]string{"part", "outcome"},
	)

	statsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regionstats_settled_total",
			Help: "Region statistic selections by final status.",
		},
		[]string{"status"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Invalidation events processed by scope and result.",
		},
		[]string{"scope", "result"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	searchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_events_total",
			Help: "Search submission events by publish result.",
		},
		[]string{"result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Sessions currently held in the registry.",
		},
	)

	hotDistricts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hot_districts",
			Help: "Districts tracked by the hotness model.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		datasetFetches, statsResults, statsSettled, cacheResults, cacheOps, redisOpDuration,
		invalidations, kafkaConsumerErrors, searchEvents, activeSessions, hotDistricts,
	}
}

// Init registers the service metrics with reg (the default registerer when nil).
// Registering twice with the same registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstream(upstream, call string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, call, outcome(err)).Observe(durationSeconds)
}

func ObserveDatasetFetch(err error) {
	datasetFetches.WithLabelValues(outcome(err)).Inc()
}

// ObserveStatsResult records one statistic response; outcome is applied, failed or stale.
func ObserveStatsResult(part, outcome string) {
	statsResults.WithLabelValues(part, outcome).Inc()
}

func ObserveStatsSettled(status string) {
	statsSettled.WithLabelValues(status).Inc()
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOps.WithLabelValues(op, outcome(err)).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveInvalidation(scope string, err error) {
	invalidations.WithLabelValues(scope, outcome(err)).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

// ObserveSearchEvent records a publish attempt; result is queued or dropped.
func ObserveSearchEvent(result string) {
	searchEvents.WithLabelValues(result).Inc()
}

func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

func SetHotDistricts(n int) { hotDistricts.Set(float64(n)) }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
