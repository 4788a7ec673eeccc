// Package metrics declares the process-wide Prometheus collectors.
//
// Naming convention: namespace_subsystem_name
//   - namespace: canis (application-level grouping)
//   - subsystem: websocket, voice, circuit_breaker, redis, ratelimit, webhook, filter, call, telemetry (feature-level grouping)
//   - name: specific metric (connections_active, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canis",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// Voice SFU

	ActiveVoiceRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "voice",
		Name:      "rooms_active",
		Help:      "Current number of active voice rooms",
	})

	VoiceRoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "voice",
		Name:      "participants_count",
		Help:      "Number of participants in each voice room",
	}, []string{"channel_id"})

	WebrtcConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "voice",
		Name:      "connection_attempts_total",
		Help:      "Total WebRTC connection attempts",
	}, []string{"status"})

	VoiceHealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "voice",
		Name:      "health_score",
		Help:      "Rolling adaptive SFU health score in [0, 100]",
	})

	ScreenShareActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "voice",
		Name:      "screen_shares_active",
		Help:      "Current number of active screen shares per channel",
	}, []string{"channel_id"})

	// Circuit breaker / shared store

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canis",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// Rate limiting

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"category"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"category"})

	// Webhooks

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts",
	}, []string{"status"})

	WebhookDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "canis",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Webhook delivery latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	// Content filter

	FilterCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "filter",
		Name:      "cache_hits_total",
		Help:      "Content filter cache hits vs misses",
	}, []string{"result"})

	// DM call coordinator

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "canis",
		Subsystem: "call",
		Name:      "active",
		Help:      "Current number of active or ringing DM calls",
	})

	// Telemetry ingest

	TelemetryDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "telemetry",
		Name:      "dropped_total",
		Help:      "Captured log/span/metric events dropped because the ingest channel was full",
	}, []string{"kind"})

	TelemetryIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "telemetry",
		Name:      "ingested_total",
		Help:      "Captured log/span/metric events written to storage",
	}, []string{"kind"})

	TelemetryRetentionPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canis",
		Subsystem: "telemetry",
		Name:      "retention_purged_total",
		Help:      "Rows removed by the telemetry retention worker",
	}, []string{"table"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
