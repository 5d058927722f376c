package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talkdb_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_pipeline_outcomes_total",
			Help: "Pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	ValidatorRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_validator_rejections_total",
			Help: "Generated queries rejected by the safety validator",
		},
		[]string{"reason"},
	)

	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talkdb_oracle_duration_seconds",
			Help:    "Language model call latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"call", "status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkdb_query_duration_seconds",
			Help:    "Analytical query latency",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30},
		},
	)

	// Bus metrics
	BusWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkdb_bus_wait_seconds",
			Help:    "Time a session waited for its correlated response",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
	)

	CorrelationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkdb_correlation_timeouts_total",
			Help: "Requests that exhausted their response retries",
		},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_bus_cleanup_failures_total",
			Help: "Failed bus cleanup attempts",
		},
		[]string{"scope"}, // "message" or "chat"
	)

	// Session and worker metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talkdb_active_sessions",
			Help: "Open websocket sessions",
		},
	)

	WorkerProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_worker_processed_total",
			Help: "Requests handled by the worker",
		},
		[]string{"result"}, // "answered", "skipped", "publish_failed"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkdb_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkdb_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
