package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ViewerEvents counts presence events by kind and outcome.
	ViewerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_viewer_events_total",
		Help: "Viewer presence events by event and result",
	}, []string{"event", "result"})

	// LocalSessions is the number of sessions tracked by this process.
	LocalSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livecount_local_sessions",
		Help: "Number of viewer sessions tracked by this instance",
	})

	// LedgerActions counts engagement actions by action and outcome.
	LedgerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_ledger_actions_total",
		Help: "Engagement ledger actions by action and result",
	}, []string{"action", "result"})

	// RollupCycles counts flush cycles by outcome (applied, lock_held, error).
	RollupCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_rollup_cycles_total",
		Help: "Rollup flush cycles by result",
	}, []string{"result"})

	// RollupDeltas counts the VOD deltas handed to durable storage.
	RollupDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_rollup_deltas_total",
		Help: "VOD deltas applied by result",
	}, []string{"result"})

	// RollupDuration records how long each flush cycle took.
	RollupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livecount_rollup_duration_seconds",
		Help:    "Rollup flush cycle latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livecount_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ViewerCountPublishes counts viewer-count notifications by direction.
	ViewerCountPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_viewer_count_messages_total",
		Help: "Viewer count notifications published or delivered",
	}, []string{"direction"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livecount_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// Result labels a boolean outcome for counters.
func Result(ok bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case ok:
		return "changed"
	default:
		return "unchanged"
	}
}
