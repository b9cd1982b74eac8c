package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseQueryLatency records repository query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// MessagesSent counts accepted sends by message type and delivery path.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Messages accepted by the gatekeeper, by type and path",
	}, []string{"type", "path"})

	// MessageRequestTransitions counts request lifecycle transitions by target status.
	MessageRequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_message_request_transitions_total",
		Help: "Message request transitions by resulting status",
	}, []string{"status"})

	// ReparentSkipped counts messages a reparent call found already attached to a conversation.
	ReparentSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_reparent_skipped_total",
		Help: "Messages skipped by reparent because they already had a conversation",
	})

	// DispatchQueueDepth is the number of events waiting for the dispatch worker.
	DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_dispatch_queue_depth",
		Help: "Realtime events waiting to be dispatched",
	})

	// DispatchFallbacks counts events dispatched inline because the queue was full or closed.
	DispatchFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dispatch_fallbacks_total",
		Help: "Realtime events dispatched synchronously instead of through the queue",
	}, []string{"reason"})

	// DispatchErrors counts failed publish or delivery attempts.
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_dispatch_errors_total",
		Help: "Realtime dispatch failures by stage",
	}, []string{"stage"})

	// WebSocketEventsTotal counts inbound WebSocket frames by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// ChatMigrationRecords counts rows handled by the chat migration by phase and outcome.
	ChatMigrationRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_chat_migration_records_total",
		Help: "Rows processed by the chat migration",
	}, []string{"phase", "outcome"})

	// SchemaMigrations counts embedded SQL migrations run, by direction (up, down).
	SchemaMigrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_schema_migrations_total",
		Help: "Embedded schema migrations applied or rolled back",
	}, []string{"direction"})

	// LegacyMessageBacklog is the number of flat messages not yet moved onto a
	// conversation or request, sampled after schema migrations.
	LegacyMessageBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_legacy_message_backlog",
		Help: "Legacy messages awaiting chat-backfill",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
