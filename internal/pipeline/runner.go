package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// Runner owns the queue workers. It is created once and started once; the
// admin server uses it to inspect queues.
type Runner struct {
	workers []*queue.Worker
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner for workers.
func NewRunner(logger *slog.Logger, workers ...*queue.Worker) *Runner {
	return &Runner{
		workers: workers,
		logger:  logger.With(slog.String("component", "runner")),
	}
}

// Start runs every worker until ctx is cancelled. A second Start while the
// first is running returns domain.ErrAlreadyRunning.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.InfoContext(ctx, "starting workers", slog.Int("queues", len(r.workers)))
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("worker %s: %w", w.Queue().Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Running reports whether Start is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Queue returns the queue called name.
func (r *Runner) Queue(name string) (*queue.Queue, bool) {
	for _, w := range r.workers {
		if w.Queue().Name() == name {
			return w.Queue(), true
		}
	}
	return nil, false
}

// Stats returns the job counts of every queue.
func (r *Runner) Stats(ctx context.Context) ([]queue.Stats, error) {
	out := make([]queue.Stats, 0, len(r.workers))
	for _, w := range r.workers {
		s, err := w.Queue().Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
