package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

func TestRunner_StartOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.New(rdb, domain.QueueMarket, queue.Options{Prefix: "test"})
	w := queue.NewWorker(q, nil, queue.WorkerOptions{PollInterval: 10 * time.Millisecond}, discardLogger())
	r := NewRunner(discardLogger(), w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Start(ctx), domain.ErrAlreadyRunning)

	got, ok := r.Queue(domain.QueueMarket)
	require.True(t, ok)
	assert.Same(t, q, got)
	_, ok = r.Queue("missing")
	assert.False(t, ok)

	_, err := q.Enqueue(ctx, domain.JobFetchMarketMetadata, domain.FetchMarketPayload{TokenID: "1"}, "market-1", queue.JobOptions{})
	require.NoError(t, err)
	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, domain.QueueMarket, stats[0].Queue)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.False(t, r.Running())
}
