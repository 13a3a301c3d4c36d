// Package ingest stores decoded contract events exactly once and turns newly
// stored events into jobs.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// Router holds the event-specific side effects of one contract family.
type Router interface {
	Contract() chain.Contract
	// OnEventSaved runs once for each event the store had not seen before.
	OnEventSaved(ctx context.Context, ev domain.RawEvent) error
}

// Enqueuer admits keyed jobs. queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, key string, opts queue.JobOptions) (bool, error)
}

// Recorder is the chain.LogHandler shared by both families: it inserts the
// event and hands new rows to the family's router.
type Recorder struct {
	store  domain.EventStore
	router Router
	logger *slog.Logger
}

// NewRecorder creates a recorder for router's family.
func NewRecorder(store domain.EventStore, router Router, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		router: router,
		logger: logger.With(slog.String("component", "recorder"), slog.String("family", router.Contract().Name())),
	}
}

// HandleLog implements chain.LogHandler. The router runs only when the insert
// wrote a new row. If routing fails after that insert, the error is returned
// but a replay of the same log is a duplicate and is not routed again; the
// event stays stored without its jobs.
func (r *Recorder) HandleLog(ctx context.Context, ev domain.RawEvent) error {
	inserted, err := r.store.Insert(ctx, ev)
	if err != nil {
		return fmt.Errorf("ingest: save %s %s: %w", ev.EventName, ev.TransactionHash, err)
	}
	if !inserted {
		metrics.EventsDuplicate.WithLabelValues(ev.EventName).Inc()
		r.logger.Debug("duplicate event",
			slog.String("event", ev.EventName),
			slog.String("tx_hash", ev.TransactionHash),
			slog.Uint64("block", ev.BlockNumber),
		)
		return nil
	}

	metrics.EventsSaved.WithLabelValues(ev.EventName).Inc()
	r.logger.Info("saved event",
		slog.String("event", ev.EventName),
		slog.String("tx_hash", ev.TransactionHash),
		slog.Uint64("block", ev.BlockNumber),
	)
	if err := r.router.OnEventSaved(ctx, ev); err != nil {
		return fmt.Errorf("ingest: route %s %s: %w", ev.EventName, ev.TransactionHash, err)
	}
	return nil
}

var _ chain.LogHandler = (*Recorder)(nil)
