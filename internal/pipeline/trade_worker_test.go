package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

func TestClassifyLeg(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		wantOK    bool
		wantSide  domain.Side
		wantToken string
		shares    string
		usdc      string
	}{
		{
			name:   "maker sells outcome token",
			args:   map[string]any{"makerAssetId": "7", "takerAssetId": "0", "making": "5000000", "taking": "2500000"},
			wantOK: true, wantSide: domain.SideSell, wantToken: "7", shares: "5", usdc: "2.5",
		},
		{
			name:   "maker buys outcome token",
			args:   map[string]any{"makerAssetId": "0", "takerAssetId": "9", "making": "1200000", "taking": "3000000"},
			wantOK: true, wantSide: domain.SideBuy, wantToken: "9", shares: "3", usdc: "1.2",
		},
		{
			name:   "no outcome token",
			args:   map[string]any{"makerAssetId": "0", "takerAssetId": "0", "making": "1", "taking": "1"},
			wantOK: false,
		},
		{
			name:   "missing asset ids",
			args:   map[string]any{"making": "1"},
			wantOK: false,
		},
		{
			name: "large token id",
			args: map[string]any{
				"makerAssetId": "71321045679252212594626385532706912750332728571942532289631379312455583992563",
				"takerAssetId": "0", "making": "1", "taking": "0",
			},
			wantOK:    true,
			wantSide:  domain.SideSell,
			wantToken: "71321045679252212594626385532706912750332728571942532289631379312455583992563",
			shares:    "0.000001", usdc: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leg, ok := ClassifyLeg(tt.args)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantSide, leg.Side)
			assert.Equal(t, tt.wantToken, leg.TokenID)
			assert.True(t, decimal.RequireFromString(tt.shares).Equal(leg.Shares), "shares %s", leg.Shares)
			assert.True(t, decimal.RequireFromString(tt.usdc).Equal(leg.USDC), "usdc %s", leg.USDC)
		})
	}
}

func TestLegPrice(t *testing.T) {
	leg := Leg{Shares: decimal.RequireFromString("3"), USDC: decimal.RequireFromString("1.2")}
	assert.True(t, decimal.RequireFromString("0.4").Equal(leg.Price()))

	leg = Leg{Shares: decimal.RequireFromString("3"), USDC: decimal.RequireFromString("1")}
	assert.Equal(t, "0.3333333333", leg.Price().String())

	assert.True(t, Leg{USDC: decimal.RequireFromString("5")}.Price().IsZero(), "zero shares price is zero")
}

func tradeJob(t *testing.T, args map[string]any) *queue.Job {
	p := domain.TradePayload{TransactionHash: "0xtx", BlockNumber: 80_000_000, LogIndex: 12, Args: args}
	return jobFor(t, domain.JobTradeProcessing, domain.TradeJobKey(p.TransactionHash, p.LogIndex), p)
}

func TestTradeWorker_DeferredUntilMarketKnown(t *testing.T) {
	markets := newMemMarkets()
	trades := &memTrades{}
	fetches := &fakeEnqueuer{}
	w := NewTradeWorker(markets, trades, fetches, queue.JobOptions{MaxAttempts: 5}, discardLogger())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	ctx := context.Background()
	job := tradeJob(t, map[string]any{
		"orderHash": "0xorder", "maker": "0xmaker",
		"makerAssetId": "0", "takerAssetId": "222", "making": "1200000", "taking": "3000000",
	})

	err := w.Handle(ctx, job)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
	assert.False(t, queue.IsPermanent(err))
	assert.Empty(t, trades.rows)
	require.Len(t, fetches.jobs, 1)
	assert.Equal(t, enqueuedJob{jobType: domain.JobFetchMarketMetadata, key: "market-222"}, fetches.jobs[0])

	require.NoError(t, markets.Upsert(ctx, domain.Market{
		ConditionID:  "0xcond",
		Slug:         "rain-london",
		ClobTokenID0: "111",
		ClobTokenID1: "222",
		Data: domain.MarketData{
			ConditionID:  "0xcond",
			Slug:         "rain-london",
			ClobTokenIDs: domain.TokenList{"111", "222"},
			Outcomes:     domain.TokenList{"Yes", "No"},
		},
	}))

	require.NoError(t, w.Handle(ctx, job))
	require.NoError(t, w.Handle(ctx, job), "replay is a no-op")
	require.Len(t, trades.rows, 1)

	tr := trades.rows[0]
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.Equal(t, "222", tr.AssetID)
	assert.Equal(t, "rain-london", tr.MarketSlug)
	assert.Equal(t, "No", tr.Outcome)
	assert.Equal(t, "0xmaker", tr.Maker)
	assert.Empty(t, tr.Taker)
	assert.Equal(t, "0xorder", tr.OrderHash)
	assert.Equal(t, uint(12), tr.LogIndex)
	assert.True(t, decimal.RequireFromString("0.4").Equal(tr.Price))
	assert.True(t, decimal.RequireFromString("3").Equal(tr.Shares))
	assert.True(t, decimal.RequireFromString("1.2").Equal(tr.USDCVolume))
	assert.Equal(t, now, tr.Timestamp)
}

func TestTradeWorker_OutcomeMismatchIsBlank(t *testing.T) {
	markets := newMemMarkets()
	require.NoError(t, markets.Upsert(context.Background(), domain.Market{
		ConditionID: "0xc", Slug: "s", ClobTokenID0: "7",
		Data: domain.MarketData{ClobTokenIDs: domain.TokenList{"7"}},
	}))
	trades := &memTrades{}
	w := NewTradeWorker(markets, trades, &fakeEnqueuer{}, queue.JobOptions{}, discardLogger())

	require.NoError(t, w.Handle(context.Background(), tradeJob(t, map[string]any{
		"makerAssetId": "7", "takerAssetId": "0", "making": "1000000", "taking": "500000",
	})))
	require.Len(t, trades.rows, 1)
	assert.Empty(t, trades.rows[0].Outcome)
	assert.Equal(t, domain.SideSell, trades.rows[0].Side)
}

func TestTradeWorker_DropsMatchWithoutToken(t *testing.T) {
	trades := &memTrades{}
	fetches := &fakeEnqueuer{}
	w := NewTradeWorker(newMemMarkets(), trades, fetches, queue.JobOptions{}, discardLogger())

	require.NoError(t, w.Handle(context.Background(), tradeJob(t, map[string]any{
		"makerAssetId": "0", "takerAssetId": "0",
	})))
	assert.Empty(t, trades.rows)
	assert.Empty(t, fetches.jobs)
}

func TestTradeWorker_MalformedPayloadIsPermanent(t *testing.T) {
	w := NewTradeWorker(newMemMarkets(), &memTrades{}, &fakeEnqueuer{}, queue.JobOptions{}, discardLogger())
	err := w.Handle(context.Background(), &queue.Job{ID: "trade-x-1", Payload: []byte(`{"args":`)})
	assert.True(t, queue.IsPermanent(err))
}
