package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mathtutor_gateway_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_routing_decisions_total",
			Help: "Routing decisions by selected level and answering tier",
		},
		[]string{"selected_level", "tier", "used_cache"},
	)

	TierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_tier_calls_total",
			Help: "Model tier calls by outcome",
		},
		[]string{"tier", "outcome"},
	)

	TierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mathtutor_gateway_tier_latency_seconds",
			Help:    "Model tier call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"tier"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_escalations_total",
			Help: "Escalations from a failed level to the next one",
		},
		[]string{"from", "to"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_cache_lookups_total",
			Help: "Cache lookups by scope and result",
		},
		[]string{"scope", "result"},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_cache_writes_total",
			Help: "Cache node writes by outcome",
		},
		[]string{"outcome"},
	)

	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_embedding_cache_total",
			Help: "Embedding cache hits and misses",
		},
		[]string{"result"},
	)

	IntentClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_intent_classifications_total",
			Help: "Intent classifications by category and method",
		},
		[]string{"category", "method"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mathtutor_gateway_active_sessions",
			Help: "Number of live sessions",
		},
	)

	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mathtutor_gateway_sessions_reaped_total",
			Help: "Total number of sessions removed by the reaper",
		},
	)
)
