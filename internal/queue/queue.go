// Package queue is a durable job queue on Redis. Jobs are keyed: a key that
// already has a job record is not admitted again, which debounces redundant
// producers. Failed handlers are retried with exponential backoff, leased jobs
// that outlive their lease are recovered, and finished jobs are kept for a
// bounded time for inspection.
package queue

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyindexer/internal/metrics"
)

var (
	//go:embed scripts/enqueue.lua
	enqueueLua string
	//go:embed scripts/claim.lua
	claimLua string
	//go:embed scripts/complete.lua
	completeLua string
	//go:embed scripts/fail.lua
	failLua string
	//go:embed scripts/requeue_stalled.lua
	requeueStalledLua string
	//go:embed scripts/retry_failed.lua
	retryFailedLua string
	//go:embed scripts/extend.lua
	extendLua string
)

var (
	enqueueScript        = redis.NewScript(enqueueLua)
	claimScript          = redis.NewScript(claimLua)
	completeScript       = redis.NewScript(completeLua)
	failScript           = redis.NewScript(failLua)
	requeueStalledScript = redis.NewScript(requeueStalledLua)
	retryFailedScript    = redis.NewScript(retryFailedLua)
	extendScript         = redis.NewScript(extendLua)
)

// ErrLeaseLost is returned when a job is acked by a worker that no longer
// holds its lease.
var ErrLeaseLost = errors.New("queue: lease lost")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a queue entry. ID is the deduplication key.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     Backoff         `json:"-"`
	Status      Status          `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	RunAt       time.Time       `json:"runAt"`
	FinishedAt  time.Time       `json:"finishedAt,omitzero"`

	token string
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload of %s: %w", j.Type, j.ID, err)
	}
	return nil
}

// JobOptions controls retries for one job.
type JobOptions struct {
	MaxAttempts int
	Backoff     Backoff
	Delay       time.Duration
}

// Options configures a queue.
type Options struct {
	// Prefix namespaces every key, e.g. "polyindexer".
	Prefix string
	// KeepCompleted and KeepCompletedAge bound the completed history. While a
	// completed job is retained its key keeps debouncing new enqueues.
	KeepCompleted    int
	KeepCompletedAge time.Duration
	KeepFailed       int
	// Defaults applies to Enqueue calls that leave MaxAttempts at zero.
	Defaults JobOptions
}

// Stats counts jobs per state.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Queue is one named queue in Redis.
type Queue struct {
	rdb  *redis.Client
	name string
	opts Options
	now  func() time.Time
}

// New creates a handle on the queue called name.
func New(rdb *redis.Client, name string, opts Options) *Queue {
	if opts.Defaults.MaxAttempts < 1 {
		opts.Defaults.MaxAttempts = 1
	}
	return &Queue{rdb: rdb, name: name, opts: opts, now: time.Now}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(part string) string {
	if q.opts.Prefix == "" {
		return q.name + ":" + part
	}
	return q.opts.Prefix + ":" + q.name + ":" + part
}

func (q *Queue) jobPrefix() string { return q.key("job:") }
func (q *Queue) jobKey(id string) string {
	return q.jobPrefix() + id
}

func (q *Queue) nowMs() int64 { return q.now().UnixMilli() }

// Enqueue admits a job of jobType under key. It returns false without error
// when key already has a job, pending or retained. A completion older than
// KeepCompletedAge is dropped and the key admitted again.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, key string, opts JobOptions) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("queue: enqueue %s on %s: empty key", jobType, q.name)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("queue: encode %s payload: %w", jobType, err)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = q.opts.Defaults.MaxAttempts
		opts.Backoff = q.opts.Defaults.Backoff
	}

	n, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(key), q.key("wait"), q.key("delayed"), q.key("completed")},
		key, jobType, string(body), opts.MaxAttempts,
		opts.Backoff.Initial.Milliseconds(), opts.Backoff.Multiplier, opts.Backoff.Max.Milliseconds(),
		q.nowMs(), opts.Delay.Milliseconds(), q.opts.KeepCompletedAge.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("queue: enqueue %s on %s: %w", key, q.name, err)
	}
	if n == 0 {
		metrics.JobsDebounced.WithLabelValues(q.name, jobType).Inc()
		return false, nil
	}
	metrics.JobsEnqueued.WithLabelValues(q.name, jobType).Inc()
	return true, nil
}

// Claim leases the next runnable job for lease. It returns nil, nil when the
// queue has nothing due.
func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*Job, error) {
	token := uuid.NewString()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("delayed"), q.key("active")},
		q.nowMs(), lease.Milliseconds(), token, q.jobPrefix(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim on %s: %w", q.name, err)
	}
	job, err := q.parseJob(pairs(res))
	if err != nil {
		return nil, err
	}
	job.token = token
	return job, nil
}

// Complete acks a leased job as done.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	n, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.key("active"), q.key("completed")},
		job.ID, job.token, q.nowMs(),
		q.opts.KeepCompleted, q.opts.KeepCompletedAge.Milliseconds(), q.jobPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("queue: complete %s on %s: %w", job.ID, q.name, err)
	}
	if n == 0 {
		return fmt.Errorf("queue: complete %s on %s: %w", job.ID, q.name, ErrLeaseLost)
	}
	return nil
}

// Extend pushes the lease of a job the caller still holds to lease from now.
// It returns ErrLeaseLost once the job was reaped or acked elsewhere.
func (q *Queue) Extend(ctx context.Context, job *Job, lease time.Duration) error {
	n, err := extendScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.key("active")},
		job.ID, job.token, q.now().Add(lease).UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("queue: extend %s on %s: %w", job.ID, q.name, err)
	}
	if n == 0 {
		return fmt.Errorf("queue: extend %s on %s: %w", job.ID, q.name, ErrLeaseLost)
	}
	return nil
}

// Fail records cause against a leased job. The job is rescheduled with its
// backoff unless cause is permanent or the attempt budget is spent. The
// returned bool reports whether the job reached the failed set.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	made := job.Attempts + 1
	delay := int64(-1)
	if !IsPermanent(cause) && made < job.MaxAttempts {
		delay = job.Backoff.Delay(made).Milliseconds()
	}

	n, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.key("active"), q.key("delayed"), q.key("failed")},
		job.ID, job.token, q.nowMs(), cause.Error(), delay, q.opts.KeepFailed, q.jobPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("queue: fail %s on %s: %w", job.ID, q.name, err)
	}
	if n == 0 {
		return false, fmt.Errorf("queue: fail %s on %s: %w", job.ID, q.name, ErrLeaseLost)
	}
	return n == 2, nil
}

// RequeueStalled returns jobs whose lease has expired to the wait list. Those
// are jobs a worker died or was stopped on.
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	n, err := requeueStalledScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("wait")},
		q.nowMs(), q.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: requeue stalled on %s: %w", q.name, err)
	}
	return n, nil
}

// Retry moves a failed job back to the wait list with a fresh attempt
// budget. It returns false when id is not in the failed set.
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	n, err := retryFailedScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("failed"), q.key("wait")}, id,
	).Int()
	if err != nil {
		return false, fmt.Errorf("queue: retry %s on %s: %w", id, q.name, err)
	}
	return n == 1, nil
}

// Get loads a job by key. It returns nil, nil for unknown keys.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s on %s: %w", id, q.name, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return q.parseJob(fields)
}

// ListFailed returns up to limit failed jobs, most recent first.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.rdb.ZRevRange(ctx, q.key("failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list failed on %s: %w", q.name, err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: load failed jobs on %s: %w", q.name, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := q.parseJob(fields)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats counts the jobs in each state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var (
		wait                               *redis.IntCmd
		delayed, active, completed, failed *redis.IntCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, q.key("wait"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		active = p.ZCard(ctx, q.key("active"))
		completed = p.ZCard(ctx, q.key("completed"))
		failed = p.ZCard(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats on %s: %w", q.name, err)
	}
	return Stats{
		Queue:     q.name,
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// pairs turns an HGETALL flat reply into a map.
func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func (q *Queue) parseJob(f map[string]string) (*Job, error) {
	job := &Job{
		ID:        f["id"],
		Queue:     q.name,
		Type:      f["type"],
		Payload:   json.RawMessage(f["payload"]),
		Status:    Status(f["status"]),
		LastError: f["last_error"],
	}
	var err error
	if job.Attempts, err = atoi(f, "attempts"); err != nil {
		return nil, err
	}
	if job.MaxAttempts, err = atoi(f, "max_attempts"); err != nil {
		return nil, err
	}
	initial, err := atoi(f, "backoff_initial")
	if err != nil {
		return nil, err
	}
	maxDelay, err := atoi(f, "backoff_max")
	if err != nil {
		return nil, err
	}
	mult, err := strconv.ParseFloat(orZero(f["backoff_multiplier"]), 64)
	if err != nil {
		return nil, fmt.Errorf("queue: job %s: backoff_multiplier: %w", job.ID, err)
	}
	job.Backoff = Backoff{
		Initial:    time.Duration(initial) * time.Millisecond,
		Multiplier: mult,
		Max:        time.Duration(maxDelay) * time.Millisecond,
	}
	job.CreatedAt = msTime(f["created_at"])
	job.RunAt = msTime(f["run_at"])
	job.FinishedAt = msTime(f["finished_at"])
	return job, nil
}

func atoi(f map[string]string, field string) (int, error) {
	n, err := strconv.Atoi(orZero(f[field]))
	if err != nil {
		return 0, fmt.Errorf("queue: job %s: %s: %w", f["id"], field, err)
	}
	return n, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
