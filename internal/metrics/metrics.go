// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain watcher
	LogsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "logs_received_total",
		Help:      "Contract logs delivered by subscriptions and range scans",
	}, []string{"family", "source"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "decode_errors_total",
		Help:      "Logs that could not be decoded against the family ABI",
	}, []string{"family"})

	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "subscription_errors_total",
		Help:      "Live subscription failures followed by a resubscribe",
	}, []string{"family"})

	ChunksScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "chunks_scanned_total",
		Help:      "Historical scan chunks fetched successfully",
	}, []string{"address"})

	ChunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "chunk_failures_total",
		Help:      "Historical scan chunk fetch failures, per attempt",
	}, []string{"address"})

	ChunksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "chunks_skipped_total",
		Help:      "Historical scan chunks given up on, leaving a block gap",
	}, []string{"address"})

	BackfillHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "backfill_block",
		Help:      "Last block covered by the historical scan",
	}, []string{"address"})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "chain",
		Name:      "rpc_calls_total",
		Help:      "RPC calls by method and outcome",
	}, []string{"method", "status"})

	// Event store
	EventsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "events",
		Name:      "saved_total",
		Help:      "New events written to the events table",
	}, []string{"event"})

	EventsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "events",
		Name:      "duplicate_total",
		Help:      "Events skipped because they were already stored",
	}, []string{"event"})

	// Queue
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs admitted to a queue",
	}, []string{"queue", "type"})

	JobsDebounced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_debounced_total",
		Help:      "Enqueue calls dropped because the key already had a job",
	}, []string{"queue", "type"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_completed_total",
		Help:      "Jobs whose handler returned without error",
	}, []string{"queue", "type"})

	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_retried_total",
		Help:      "Handler failures rescheduled with backoff",
	}, []string{"queue", "type"})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_failed_total",
		Help:      "Jobs moved to the failed set",
	}, []string{"queue", "type"})

	JobsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "jobs_recovered_total",
		Help:      "Jobs whose lease expired and were put back on the wait list",
	}, []string{"queue"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "polyindexer",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "Handler run time",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"queue", "type"})

	// Workers
	MarketsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "markets",
		Name:      "upserted_total",
		Help:      "Market rows inserted or patched from provider data",
	})

	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "markets",
		Name:      "resolved_total",
		Help:      "Markets that received a resolution record",
	})

	MarketsAbsent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "markets",
		Name:      "absent_total",
		Help:      "Metadata fetches completed without a usable provider record",
	}, []string{"reason"})

	TradesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "trades",
		Name:      "saved_total",
		Help:      "Trades written",
	}, []string{"side"})

	TradesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "trades",
		Name:      "dropped_total",
		Help:      "OrdersMatched events with no outcome-token leg",
	})

	TradesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "trades",
		Name:      "deferred_total",
		Help:      "Trade jobs retried because their market is not known yet",
	})

	// Export
	ExportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyindexer",
		Subsystem: "export",
		Name:      "rows_total",
		Help:      "Rows written to object storage exports",
	}, []string{"table"})
)
