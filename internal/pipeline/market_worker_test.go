package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

func rainMarket(closed bool) domain.MarketData {
	return domain.MarketData{
		ConditionID:  "0xcond",
		QuestionID:   "0xq",
		Slug:         "rain-london",
		ClobTokenIDs: domain.TokenList{"111", "222"},
		Outcomes:     domain.TokenList{"Yes", "No"},
		Closed:       closed,
	}
}

func fetchJob(t *testing.T, token string) *queue.Job {
	return jobFor(t, domain.JobFetchMarketMetadata, domain.MarketJobKey(token), domain.FetchMarketPayload{TokenID: token})
}

func resolutionJob(t *testing.T) *queue.Job {
	return jobFor(t, domain.JobProcessMarketResolution, domain.ResolutionJobKey("0xq"), domain.ResolutionPayload{
		QuestionID:      "0xq",
		SettledPrice:    "1000000000000000000",
		Payouts:         []string{"1", "0"},
		TransactionHash: "0xres",
	})
}

type marketFixture struct {
	provider *fakeProvider
	markets  *memMarkets
	locks    *fakeLocks
	alerts   *recordingAlerter
	worker   *MarketWorker
}

func newMarketFixture() *marketFixture {
	f := &marketFixture{
		provider: &fakeProvider{records: map[string]domain.MarketData{}},
		markets:  newMemMarkets(),
		locks:    &fakeLocks{},
		alerts:   &recordingAlerter{},
	}
	f.worker = NewMarketWorker(f.provider, f.markets, f.locks, time.Second, f.alerts, discardLogger())
	return f
}

func TestMarketWorker_FetchCreatesMarket(t *testing.T) {
	f := newMarketFixture()
	f.provider.records["222"] = rainMarket(false)

	require.NoError(t, f.worker.HandleFetch(context.Background(), fetchJob(t, "222")))

	m, err := f.markets.GetByConditionID(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, "rain-london", m.Slug)
	assert.Equal(t, "0xq", m.QuestionID)
	assert.Equal(t, "111", m.ClobTokenID0)
	assert.Equal(t, "222", m.ClobTokenID1)
	assert.Equal(t, "No", m.OutcomeFor("222"))
	assert.Empty(t, f.locks.held, "lock released")
}

func TestMarketWorker_FetchAbsentOrIncompleteCompletes(t *testing.T) {
	f := newMarketFixture()
	f.provider.records["5"] = domain.MarketData{ConditionID: "0xc"} // no slug

	require.NoError(t, f.worker.HandleFetch(context.Background(), fetchJob(t, "404")))
	require.NoError(t, f.worker.HandleFetch(context.Background(), fetchJob(t, "5")))
	assert.Zero(t, f.markets.upserts)
}

func TestMarketWorker_FetchTransportErrorRetries(t *testing.T) {
	f := newMarketFixture()
	f.provider.err = errors.New("dial tcp: i/o timeout")

	err := f.worker.HandleFetch(context.Background(), fetchJob(t, "1"))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}

func TestMarketWorker_FetchLockHeldRetries(t *testing.T) {
	f := newMarketFixture()
	f.provider.records["222"] = rainMarket(false)
	_, err := f.locks.Acquire(context.Background(), "market:0xcond", time.Second)
	require.NoError(t, err)

	err = f.worker.HandleFetch(context.Background(), fetchJob(t, "222"))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.False(t, queue.IsPermanent(err))
}

func TestMarketWorker_FetchKeepsResolution(t *testing.T) {
	f := newMarketFixture()
	ctx := context.Background()
	f.provider.records["222"] = rainMarket(true)
	require.NoError(t, f.worker.HandleFetch(ctx, fetchJob(t, "222")))
	require.NoError(t, f.worker.HandleResolution(ctx, resolutionJob(t)))

	require.NoError(t, f.worker.HandleFetch(ctx, fetchJob(t, "222")))
	m, err := f.markets.GetByConditionID(ctx, "0xcond")
	require.NoError(t, err)
	require.NotNil(t, m.Data.Resolution)
	assert.Equal(t, "0xres", m.Data.Resolution.TransactionHash)
}

func TestMarketWorker_ResolutionUnknownMarketRetries(t *testing.T) {
	f := newMarketFixture()
	err := f.worker.HandleResolution(context.Background(), resolutionJob(t))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.False(t, queue.IsPermanent(err))
}

func TestMarketWorker_ResolutionPollsUntilClosed(t *testing.T) {
	f := newMarketFixture()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time { return now }

	f.provider.records["111"] = rainMarket(false)
	f.provider.records["222"] = rainMarket(false)
	require.NoError(t, f.worker.HandleFetch(ctx, fetchJob(t, "222")))

	err := f.worker.HandleResolution(ctx, resolutionJob(t))
	require.ErrorIs(t, err, domain.ErrMarketOpen)
	m, _ := f.markets.GetByConditionID(ctx, "0xcond")
	assert.Nil(t, m.Data.Resolution)
	assert.Empty(t, f.alerts.events)

	f.provider.records["111"] = rainMarket(true)
	require.NoError(t, f.worker.HandleResolution(ctx, resolutionJob(t)))

	m, err = f.markets.GetByConditionID(ctx, "0xcond")
	require.NoError(t, err)
	assert.True(t, m.Data.Closed)
	require.NotNil(t, m.Data.Resolution)
	assert.Equal(t, domain.Resolution{
		SettledPrice:    "1000000000000000000",
		Payouts:         []string{"1", "0"},
		ResolvedAt:      now,
		TransactionHash: "0xres",
	}, *m.Data.Resolution)
	assert.Equal(t, []string{"market_resolved"}, f.alerts.events)
}

func TestMarketWorker_ResolutionWithoutProviderRecord(t *testing.T) {
	f := newMarketFixture()
	ctx := context.Background()
	require.NoError(t, f.markets.Upsert(ctx, domain.Market{
		ConditionID: "0xcond", QuestionID: "0xq", Slug: "rain-london",
		Data: domain.MarketData{ConditionID: "0xcond", Slug: "rain-london"},
	}))

	require.NoError(t, f.worker.HandleResolution(ctx, resolutionJob(t)))
	m, err := f.markets.GetByConditionID(ctx, "0xcond")
	require.NoError(t, err)
	require.NotNil(t, m.Data.Resolution)
	assert.Zero(t, f.provider.calls, "no token to refresh with")
}
