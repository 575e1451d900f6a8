package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Durable queue metrics
	QueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_queue_enqueued_total",
			Help: "Total messages written to the durable queue",
		},
	)

	// QueueEvicted counts entries trimmed because the queue was at capacity.
	// Eviction is never reported to the sender; this counter is the only signal.
	QueueEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_queue_evicted_total",
			Help: "Total queue entries evicted by the length bound",
		},
	)

	QueueDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_queue_drained_total",
			Help: "Total queue entries handed to the persistence worker",
		},
	)

	QueueRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_queue_removed_total",
			Help: "Total queue entries removed after persistence",
		},
	)

	// Persistence worker metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_messages_persisted_total",
			Help: "Total messages written to permanent storage",
		},
	)

	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_messages_dropped_total",
			Help: "Total queue entries dropped without persistence",
		},
		[]string{"reason"},
	)

	BatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_worker_batch_failures_total",
			Help: "Total failed persistence batches",
		},
	)

	WorkerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "murmur_worker_restarts_total",
			Help: "Total supervised worker restarts",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "murmur_worker_batch_size",
			Help:    "Entries per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Realtime metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "murmur_active_connections",
			Help: "Live realtime connections on this instance",
		},
	)

	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_fanout_deliveries_total",
			Help: "Fan-out events written to local connections",
		},
		[]string{"result"}, // "ok" or "dropped"
	)

	InboundPayloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_inbound_payloads_total",
			Help: "Inbound realtime payloads by type",
		},
		[]string{"type"},
	)

	PresenceUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_presence_updates_total",
			Help: "Presence store writes",
		},
		[]string{"op"}, // "online", "offline", "refresh"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murmur_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "murmur_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murmur_storage_latency_seconds",
			Help:    "Permanent storage query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
