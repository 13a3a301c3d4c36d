package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// tokenDecimals is the fixed-point scale of both outcome tokens and USDC.
const tokenDecimals = 6

// priceScale is the number of fractional digits kept in trade prices.
const priceScale = 10

// Enqueuer admits keyed jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, key string, opts queue.JobOptions) (bool, error)
}

// Leg is the outcome-token side of an OrdersMatched event.
type Leg struct {
	Side    domain.Side
	TokenID string
	Shares  decimal.Decimal
	USDC    decimal.Decimal
}

// Price is USDC per share, zero when no shares moved.
func (l Leg) Price() decimal.Decimal {
	if l.Shares.IsZero() {
		return decimal.Zero
	}
	return l.USDC.DivRound(l.Shares, priceScale)
}

// ClassifyLeg picks the outcome-token leg of a match. A nonzero maker asset
// means the maker sold that token for USDC; otherwise a nonzero taker asset
// means the maker bought it. With neither, ok is false and the event carries
// no trade.
func ClassifyLeg(args map[string]any) (Leg, bool) {
	makerAsset := bigArg(args, "makerAssetId")
	takerAsset := bigArg(args, "takerAssetId")
	making := bigArg(args, "making")
	taking := bigArg(args, "taking")

	switch {
	case makerAsset.Sign() != 0:
		return Leg{
			Side:    domain.SideSell,
			TokenID: makerAsset.String(),
			Shares:  scaled(making),
			USDC:    scaled(taking),
		}, true
	case takerAsset.Sign() != 0:
		return Leg{
			Side:    domain.SideBuy,
			TokenID: takerAsset.String(),
			Shares:  scaled(taking),
			USDC:    scaled(making),
		}, true
	default:
		return Leg{}, false
	}
}

// bigArg reads a decimal-string argument. Missing or malformed values are 0.
func bigArg(args map[string]any, name string) *big.Int {
	s, _ := args[name].(string)
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

func scaled(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -tokenDecimals)
}

// TradeWorker turns OrdersMatched events into trades linked to their market.
type TradeWorker struct {
	markets    domain.MarketStore
	trades     domain.TradeStore
	marketJobs Enqueuer
	fetchOpts  queue.JobOptions
	now        func() time.Time
	logger     *slog.Logger
}

// NewTradeWorker creates a TradeWorker. marketJobs receives metadata fetches
// for tokens whose market is not stored yet.
func NewTradeWorker(markets domain.MarketStore, trades domain.TradeStore, marketJobs Enqueuer, fetchOpts queue.JobOptions, logger *slog.Logger) *TradeWorker {
	return &TradeWorker{
		markets:    markets,
		trades:     trades,
		marketJobs: marketJobs,
		fetchOpts:  fetchOpts,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "trade_worker")),
	}
}

// Register binds the trade job type on w.
func (t *TradeWorker) Register(w *queue.Worker) {
	w.Handle(domain.JobTradeProcessing, t.Handle)
}

// Handle processes one trade-processing job. When the market of the traded
// token is unknown it queues a metadata fetch and fails so the job is
// retried later.
func (t *TradeWorker) Handle(ctx context.Context, job *queue.Job) error {
	var p domain.TradePayload
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}

	leg, ok := ClassifyLeg(p.Args)
	if !ok {
		metrics.TradesDropped.Inc()
		t.logger.DebugContext(ctx, "match without outcome token", slog.String("tx_hash", p.TransactionHash))
		return nil
	}

	market, err := t.markets.GetByTokenID(ctx, leg.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		if _, qerr := t.marketJobs.Enqueue(ctx, domain.JobFetchMarketMetadata,
			domain.FetchMarketPayload{TokenID: leg.TokenID, TransactionHash: p.TransactionHash},
			domain.MarketJobKey(leg.TokenID), t.fetchOpts); qerr != nil {
			return fmt.Errorf("trade %s: queue market fetch: %w", job.ID, qerr)
		}
		metrics.TradesDeferred.Inc()
		return fmt.Errorf("trade %s: token %s: %w", job.ID, leg.TokenID, domain.ErrMarketNotFound)
	}
	if err != nil {
		return fmt.Errorf("trade %s: lookup market: %w", job.ID, err)
	}

	str := func(name string) string {
		s, _ := p.Args[name].(string)
		return s
	}
	trade := domain.Trade{
		TransactionHash: p.TransactionHash,
		BlockNumber:     p.BlockNumber,
		LogIndex:        p.LogIndex,
		Maker:           str("maker"),
		Taker:           str("taker"),
		OrderHash:       str("orderHash"),
		AssetID:         leg.TokenID,
		Side:            leg.Side,
		MarketSlug:      market.Slug,
		Outcome:         market.OutcomeFor(leg.TokenID),
		Price:           leg.Price(),
		Shares:          leg.Shares,
		USDCVolume:      leg.USDC,
		Timestamp:       t.now().UTC(),
	}

	inserted, err := t.trades.Insert(ctx, trade)
	if err != nil {
		return fmt.Errorf("trade %s: save: %w", job.ID, err)
	}
	if inserted {
		metrics.TradesSaved.WithLabelValues(string(leg.Side)).Inc()
	}
	t.logger.InfoContext(ctx, "trade saved",
		slog.String("tx_hash", trade.TransactionHash),
		slog.Uint64("log_index", uint64(trade.LogIndex)),
		slog.String("market", trade.MarketSlug),
		slog.String("side", string(trade.Side)),
		slog.String("price", trade.Price.String()),
		slog.Bool("duplicate", !inserted),
	)
	return nil
}
