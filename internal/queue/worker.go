package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
)

// Handler processes one job. Returning an error retries the job per its
// backoff; wrap with Permanent to fail it immediately.
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	Concurrency int
	// RateLimit jobs may start per RateWindow across every worker sharing
	// the queue. Zero disables the limit.
	RateLimit    int
	RateWindow   time.Duration
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

// Worker runs handlers for the jobs of one queue.
type Worker struct {
	queue    *Queue
	limiter  domain.RateLimiter
	opts     WorkerOptions
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
	onFailed func(ctx context.Context, job *Job, err error)
}

// NewWorker creates a worker for q. limiter may be nil when opts.RateLimit is
// zero.
func NewWorker(q *Queue, limiter domain.RateLimiter, opts WorkerOptions, logger *slog.Logger) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Second
	}
	return &Worker{
		queue:    q,
		limiter:  limiter,
		opts:     opts,
		logger:   logger.With(slog.String("component", "worker"), slog.String("queue", q.Name())),
		handlers: make(map[string]Handler),
	}
}

// Queue returns the queue the worker drains.
func (w *Worker) Queue() *Queue { return w.queue }

// Handle registers h for jobs of jobType.
func (w *Worker) Handle(jobType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = h
}

// OnFailed registers a hook called when a job reaches the failed set.
func (w *Worker) OnFailed(fn func(ctx context.Context, job *Job, err error)) {
	w.onFailed = fn
}

// Run processes jobs until ctx is cancelled. Jobs in flight at cancellation
// are not acked; their lease expires and another worker picks them up.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started",
		slog.Int("concurrency", w.opts.Concurrency),
		slog.Int("rate_limit", w.opts.RateLimit),
		slog.Duration("rate_window", w.opts.RateWindow),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error { return w.loop(gctx) })
	}
	g.Go(func() error { return w.reap(gctx) })

	err := g.Wait()
	w.logger.Info("worker stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := w.queue.Claim(ctx, w.opts.LeaseTTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("claim failed", slog.String("error", err.Error()))
			if !sleep(ctx, w.opts.PollInterval) {
				return nil
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, w.opts.PollInterval) {
				return nil
			}
			continue
		}
		w.process(ctx, job)
	}
}

// process runs one claimed job and acks it. Nothing is acked once ctx is
// done.
func (w *Worker) process(ctx context.Context, job *Job) {
	if w.opts.RateLimit > 0 && w.limiter != nil {
		if err := w.limiter.Wait(ctx, "queue:"+w.queue.Name(), w.opts.RateLimit, w.opts.RateWindow); err != nil {
			if ctx.Err() == nil {
				w.logger.Error("rate limiter failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
			return
		}
	}

	hctx, cancel := context.WithCancelCause(ctx)
	held := make(chan struct{})
	go func() {
		defer close(held)
		w.holdLease(hctx, job, cancel)
	}()

	start := time.Now()
	err := w.run(hctx, job)
	metrics.JobDuration.WithLabelValues(w.queue.Name(), job.Type).Observe(time.Since(start).Seconds())
	cancel(nil)
	<-held
	if ctx.Err() != nil {
		return
	}
	if cause := context.Cause(hctx); errors.Is(cause, ErrLeaseLost) {
		w.logger.Warn("lease lost, result dropped", slog.String("job_id", job.ID), slog.String("type", job.Type))
		return
	}

	if err == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			w.logger.Error("complete failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			return
		}
		metrics.JobsCompleted.WithLabelValues(w.queue.Name(), job.Type).Inc()
		w.logger.Debug("job completed", slog.String("job_id", job.ID), slog.String("type", job.Type))
		return
	}

	failed, ferr := w.queue.Fail(ctx, job, err)
	if ferr != nil {
		w.logger.Error("fail failed", slog.String("job_id", job.ID), slog.String("error", ferr.Error()))
		return
	}
	if !failed {
		metrics.JobsRetried.WithLabelValues(w.queue.Name(), job.Type).Inc()
		w.logger.Warn("job will retry",
			slog.String("job_id", job.ID),
			slog.String("type", job.Type),
			slog.Int("attempt", job.Attempts+1),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.JobsFailed.WithLabelValues(w.queue.Name(), job.Type).Inc()
	w.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Int("attempts", job.Attempts+1),
		slog.String("error", err.Error()),
	)
	if w.onFailed != nil {
		w.onFailed(ctx, job, err)
	}
}

// holdLease renews the job's lease while its handler runs. Losing the lease
// cancels the handler with ErrLeaseLost.
func (w *Worker) holdLease(ctx context.Context, job *Job, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(w.opts.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.Extend(ctx, job, w.opts.LeaseTTL)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrLeaseLost) {
				cancel(err)
				return
			}
			if ctx.Err() == nil {
				w.logger.Warn("lease renewal failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	w.mu.RLock()
	h, ok := w.handlers[job.Type]
	w.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("no handler for job type %q", job.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panic",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// reap periodically recovers jobs whose lease expired.
func (w *Worker) reap(ctx context.Context) error {
	interval := w.opts.LeaseTTL / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.queue.RequeueStalled(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("requeue stalled failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				metrics.JobsRecovered.WithLabelValues(w.queue.Name()).Add(float64(n))
				w.logger.Warn("recovered stalled jobs", slog.Int("count", n))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
