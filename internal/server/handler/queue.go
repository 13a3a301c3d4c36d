package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// QueueSource exposes the queues of the running workers.
type QueueSource interface {
	Queue(name string) (*queue.Queue, bool)
	Stats(ctx context.Context) ([]queue.Stats, error)
}

// QueueHandler serves queue inspection and manual retry.
type QueueHandler struct {
	queues QueueSource
	logger *slog.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queues QueueSource, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queues: queues, logger: logHandler(logger, "queue")}
}

// ListQueues returns the job counts of every queue.
// GET /api/queues
func (h *QueueHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queues.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "queue stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

// ListFailed returns the most recently failed jobs of a queue.
// GET /api/queues/{name}/failed?limit=N
func (h *QueueHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	jobs, err := q.ListFailed(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed jobs", slog.String("queue", q.Name()), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": q.Name(), "jobs": jobs})
}

// GetJob returns one job record.
// GET /api/queues/{name}/jobs/{id}
func (h *QueueHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	job, err := q.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get job", slog.String("queue", q.Name()), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob moves a failed job back to the wait list with a fresh attempt
// budget.
// POST /api/queues/{name}/jobs/{id}/retry
func (h *QueueHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	q, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	retried, err := q.Retry(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "retry job", slog.String("queue", q.Name()), slog.String("job_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retry job")
		return
	}
	if !retried {
		writeError(w, http.StatusNotFound, "no failed job with that id")
		return
	}
	h.logger.InfoContext(r.Context(), "job retried", slog.String("queue", q.Name()), slog.String("job_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id})
}

func (h *QueueHandler) lookup(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	name := r.PathValue("name")
	q, ok := h.queues.Queue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown queue "+name)
	}
	return q, ok
}
