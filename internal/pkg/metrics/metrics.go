// Package metrics provides Prometheus metrics for the Kubently fabric (RED + bus + streams).
// Scrapeable at /metrics; runbooks and dashboards can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kubently"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// CommandsDispatchedTotal counts dispatched commands by terminal status.
	CommandsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Total number of commands dispatched, by final status (success, failure, timeout).",
		},
		[]string{"status"},
	)

	// CommandsRejectedTotal counts commands rejected before reaching the bus.
	CommandsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Total number of commands rejected at validation, by reason.",
		},
		[]string{"reason"},
	)

	// CommandWaitSeconds is time from publish to result (or timeout).
	CommandWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_wait_seconds",
			Help:      "Time spent waiting for a command result.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms to ~82s
		},
	)

	// ExecutorStreamsActive is the number of executor streams held by this replica.
	ExecutorStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_streams_active",
			Help:      "Number of active executor SSE streams on this replica.",
		},
	)

	// StreamEventsTotal counts events written to executor streams.
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Total number of SSE events written to executor streams, by event type.",
		},
		[]string{"event"},
	)

	// ResultsIngestedTotal counts result deliveries from executors.
	ResultsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_ingested_total",
			Help:      "Total number of executor result posts, by outcome (accepted, unknown, duplicate, too_large).",
		},
		[]string{"outcome"},
	)

	// RedisOpDurationSeconds is latency of Redis operations by op name.
	RedisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redis_op_duration_seconds",
			Help:      "Redis operation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 9), // 0.5ms to ~1.9s
		},
		[]string{"op"},
	)

	// RedisOpErrorsTotal counts failed Redis operations by op name.
	RedisOpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_op_errors_total",
			Help:      "Total number of failed Redis operations.",
		},
		[]string{"op"},
	)

	// AuthFailuresTotal counts authentication failures by surface (api_key, executor_token).
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures by credential surface.",
		},
		[]string{"surface"},
	)

	// RateLimitRejectionsTotal counts 429 responses from the rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
	)

	// ClustersRegistered is the number of clusters with a provisioned token.
	ClustersRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters_registered",
			Help:      "Number of clusters with an executor token provisioned.",
		},
	)

	// ClustersActive is the number of clusters with a recent activity hint.
	ClustersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clusters_active",
			Help:      "Number of clusters recently targeted by a dispatch.",
		},
	)

	// CapabilityCacheHitsTotal counts dispatcher capability micro-cache hits.
	CapabilityCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_cache_hits_total",
			Help:      "Total number of capability cache hits on the dispatch path.",
		},
	)

	// CapabilityCacheMissesTotal counts dispatcher capability micro-cache misses.
	CapabilityCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_cache_misses_total",
			Help:      "Total number of capability cache misses on the dispatch path.",
		},
	)

	// BusBreakerState is the command bus circuit breaker state (0 closed, 1 open, 2 half-open).
	BusBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_breaker_state",
			Help:      "Command bus circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
	)

	// BusBreakerTransitionsTotal counts breaker state transitions.
	BusBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions.",
		},
		[]string{"from", "to"},
	)
)
