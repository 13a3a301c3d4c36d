package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memEventStore struct {
	mu   sync.Mutex
	rows map[string]domain.RawEvent
	err  error
}

func newMemEventStore() *memEventStore { return &memEventStore{rows: map[string]domain.RawEvent{}} }

func (s *memEventStore) Insert(_ context.Context, ev domain.RawEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	k := fmt.Sprintf("%s|%s|%d", ev.TransactionHash, ev.EventName, ev.BlockNumber)
	if _, ok := s.rows[k]; ok {
		return false, nil
	}
	s.rows[k] = ev
	return true, nil
}

func (s *memEventStore) ListCreatedBetween(context.Context, time.Time, time.Time, domain.ListOpts) ([]domain.RawEvent, error) {
	return nil, nil
}

func (s *memEventStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type enqueued struct {
	jobType string
	key     string
	payload any
	opts    queue.JobOptions
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, jobType string, payload any, key string, opts queue.JobOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.jobs = append(f.jobs, enqueued{jobType: jobType, key: key, payload: payload, opts: opts})
	return true, nil
}

func matched(maker, taker string) domain.RawEvent {
	return domain.RawEvent{
		TransactionHash: "0xabc",
		BlockNumber:     100,
		LogIndex:        4,
		EventName:       domain.EventOrdersMatched,
		Args: map[string]any{
			"makerAssetId": maker,
			"takerAssetId": taker,
			"making":       "5000000",
			"taking":       "2500000",
		},
	}
}

func TestRecorder_DuplicateIsStoredAndRoutedOnce(t *testing.T) {
	store := newMemEventStore()
	markets, trades := &fakeEnqueuer{}, &fakeEnqueuer{}
	router := NewExchangeRouter(markets, trades, queue.JobOptions{}, queue.JobOptions{}, discardLogger())
	rec := NewRecorder(store, router, discardLogger())

	ctx := context.Background()
	ev := matched("7", "0")
	require.NoError(t, rec.HandleLog(ctx, ev))
	require.NoError(t, rec.HandleLog(ctx, ev))

	n, _ := store.Count(ctx)
	assert.Equal(t, int64(1), n)
	assert.Len(t, markets.jobs, 1)
	assert.Len(t, trades.jobs, 1)
}

func TestRecorder_StoreError(t *testing.T) {
	store := newMemEventStore()
	store.err = errors.New("connection reset")
	markets := &fakeEnqueuer{}
	rec := NewRecorder(store, NewExchangeRouter(markets, markets, queue.JobOptions{}, queue.JobOptions{}, discardLogger()), discardLogger())

	err := rec.HandleLog(context.Background(), matched("7", "0"))
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, markets.jobs)
}

func TestRecorder_RouterErrorSurfaces(t *testing.T) {
	markets := &fakeEnqueuer{err: errors.New("redis down")}
	rec := NewRecorder(newMemEventStore(), NewExchangeRouter(markets, &fakeEnqueuer{}, queue.JobOptions{}, queue.JobOptions{}, discardLogger()), discardLogger())
	assert.ErrorContains(t, rec.HandleLog(context.Background(), matched("7", "0")), "redis down")
}

func TestRecorder_ReplayAfterRouterErrorIsNotRouted(t *testing.T) {
	store := newMemEventStore()
	markets, trades := &fakeEnqueuer{err: errors.New("redis down")}, &fakeEnqueuer{}
	rec := NewRecorder(store, NewExchangeRouter(markets, trades, queue.JobOptions{}, queue.JobOptions{}, discardLogger()), discardLogger())

	ctx := context.Background()
	ev := matched("7", "0")
	require.Error(t, rec.HandleLog(ctx, ev))

	markets.err = nil
	require.NoError(t, rec.HandleLog(ctx, ev))

	n, _ := store.Count(ctx)
	assert.Equal(t, int64(1), n, "event row kept from the first attempt")
	assert.Empty(t, markets.jobs, "duplicate replay does not route")
	assert.Empty(t, trades.jobs)
}

func TestExchangeRouter_OrdersMatched(t *testing.T) {
	tests := []struct {
		name      string
		maker     string
		taker     string
		wantToken string
	}{
		{"maker asset", "7", "0", "7"},
		{"taker asset", "0", "9", "9"},
		{"missing maker", "", "9", "9"},
		{"no token", "0", "0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markets, trades := &fakeEnqueuer{}, &fakeEnqueuer{}
			marketOpts := queue.JobOptions{MaxAttempts: 5}
			tradeOpts := queue.JobOptions{MaxAttempts: 10}
			r := NewExchangeRouter(markets, trades, marketOpts, tradeOpts, discardLogger())

			require.NoError(t, r.OnEventSaved(context.Background(), matched(tt.maker, tt.taker)))
			if tt.wantToken == "" {
				assert.Empty(t, markets.jobs)
				assert.Empty(t, trades.jobs)
				return
			}

			require.Len(t, markets.jobs, 1)
			assert.Equal(t, domain.JobFetchMarketMetadata, markets.jobs[0].jobType)
			assert.Equal(t, "market-"+tt.wantToken, markets.jobs[0].key)
			assert.Equal(t, tt.wantToken, markets.jobs[0].payload.(domain.FetchMarketPayload).TokenID)
			assert.Equal(t, marketOpts, markets.jobs[0].opts)

			require.Len(t, trades.jobs, 1)
			assert.Equal(t, domain.JobTradeProcessing, trades.jobs[0].jobType)
			assert.Equal(t, "trade-0xabc-4", trades.jobs[0].key)
			p := trades.jobs[0].payload.(domain.TradePayload)
			assert.Equal(t, uint64(100), p.BlockNumber)
			assert.Equal(t, uint(4), p.LogIndex)
			assert.Equal(t, "5000000", p.Args["making"])
			assert.Equal(t, tradeOpts, trades.jobs[0].opts)
		})
	}
}

func TestExchangeRouter_OrderFilledStoredOnly(t *testing.T) {
	markets, trades := &fakeEnqueuer{}, &fakeEnqueuer{}
	r := NewExchangeRouter(markets, trades, queue.JobOptions{}, queue.JobOptions{}, discardLogger())
	ev := matched("7", "0")
	ev.EventName = domain.EventOrderFilled

	require.NoError(t, r.OnEventSaved(context.Background(), ev))
	assert.Empty(t, markets.jobs)
	assert.Empty(t, trades.jobs)
}

func TestResolutionRouter(t *testing.T) {
	markets := &fakeEnqueuer{}
	opts := queue.JobOptions{MaxAttempts: 24}
	r := NewResolutionRouter(markets, opts, discardLogger())

	ev := domain.RawEvent{
		TransactionHash: "0xdef",
		EventName:       domain.EventQuestionResolved,
		Args: map[string]any{
			"questionID":   "0x01",
			"settledPrice": "1000000000000000000",
			"payouts":      []any{"1", "0"},
		},
	}
	require.NoError(t, r.OnEventSaved(context.Background(), ev))
	require.Len(t, markets.jobs, 1)
	job := markets.jobs[0]
	assert.Equal(t, domain.JobProcessMarketResolution, job.jobType)
	assert.Equal(t, "resolution-0x01", job.key)
	assert.Equal(t, opts, job.opts)
	assert.Equal(t, domain.ResolutionPayload{
		QuestionID:      "0x01",
		SettledPrice:    "1000000000000000000",
		Payouts:         []string{"1", "0"},
		TransactionHash: "0xdef",
	}, job.payload)
}

func TestNonZero(t *testing.T) {
	assert.True(t, nonZero("7"))
	assert.True(t, nonZero("71321045679252212594626385532706912750332728571942532289631379312455583992563"))
	assert.False(t, nonZero("0"))
	assert.False(t, nonZero(""))
	assert.False(t, nonZero("abc"))
}
