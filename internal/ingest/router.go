package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// ExchangeRouter turns OrdersMatched events into a metadata fetch for the
// traded token and a trade-processing job. OrderFilled is stored only.
type ExchangeRouter struct {
	contract   chain.Contract
	markets    Enqueuer
	trades     Enqueuer
	marketOpts queue.JobOptions
	tradeOpts  queue.JobOptions
	logger     *slog.Logger
}

// NewExchangeRouter creates the exchange family router.
func NewExchangeRouter(markets, trades Enqueuer, marketOpts, tradeOpts queue.JobOptions, logger *slog.Logger) *ExchangeRouter {
	return &ExchangeRouter{
		contract:   chain.ExchangeContract(),
		markets:    markets,
		trades:     trades,
		marketOpts: marketOpts,
		tradeOpts:  tradeOpts,
		logger:     logger.With(slog.String("component", "exchange_router")),
	}
}

// Contract implements Router.
func (r *ExchangeRouter) Contract() chain.Contract { return r.contract }

// OnEventSaved implements Router.
func (r *ExchangeRouter) OnEventSaved(ctx context.Context, ev domain.RawEvent) error {
	if ev.EventName != domain.EventOrdersMatched {
		return nil
	}

	tokenID := ev.Arg("makerAssetId")
	if !nonZero(tokenID) {
		tokenID = ev.Arg("takerAssetId")
	}
	if !nonZero(tokenID) {
		return nil
	}

	if _, err := r.markets.Enqueue(ctx, domain.JobFetchMarketMetadata,
		domain.FetchMarketPayload{TokenID: tokenID, TransactionHash: ev.TransactionHash},
		domain.MarketJobKey(tokenID), r.marketOpts); err != nil {
		return fmt.Errorf("enqueue market fetch %s: %w", tokenID, err)
	}
	r.logger.Debug("queued market fetch", slog.String("token_id", tokenID))

	if _, err := r.trades.Enqueue(ctx, domain.JobTradeProcessing,
		domain.TradePayload{
			TransactionHash: ev.TransactionHash,
			BlockNumber:     ev.BlockNumber,
			LogIndex:        ev.LogIndex,
			Args:            ev.Args,
		},
		domain.TradeJobKey(ev.TransactionHash, ev.LogIndex), r.tradeOpts); err != nil {
		return fmt.Errorf("enqueue trade %s#%d: %w", ev.TransactionHash, ev.LogIndex, err)
	}
	return nil
}

// ResolutionRouter turns QuestionResolved events into resolution
// reconciliation jobs.
type ResolutionRouter struct {
	contract chain.Contract
	markets  Enqueuer
	opts     queue.JobOptions
	logger   *slog.Logger
}

// NewResolutionRouter creates the adapter family router.
func NewResolutionRouter(markets Enqueuer, opts queue.JobOptions, logger *slog.Logger) *ResolutionRouter {
	return &ResolutionRouter{
		contract: chain.AdapterContract(),
		markets:  markets,
		opts:     opts,
		logger:   logger.With(slog.String("component", "resolution_router")),
	}
}

// Contract implements Router.
func (r *ResolutionRouter) Contract() chain.Contract { return r.contract }

// OnEventSaved implements Router.
func (r *ResolutionRouter) OnEventSaved(ctx context.Context, ev domain.RawEvent) error {
	if ev.EventName != domain.EventQuestionResolved {
		return nil
	}
	questionID := ev.Arg("questionID")
	if questionID == "" {
		return nil
	}

	payouts := ev.ArgList("payouts")
	if payouts == nil {
		payouts = []string{}
	}
	if _, err := r.markets.Enqueue(ctx, domain.JobProcessMarketResolution,
		domain.ResolutionPayload{
			QuestionID:      questionID,
			SettledPrice:    ev.Arg("settledPrice"),
			Payouts:         payouts,
			TransactionHash: ev.TransactionHash,
		},
		domain.ResolutionJobKey(questionID), r.opts); err != nil {
		return fmt.Errorf("enqueue resolution %s: %w", questionID, err)
	}
	r.logger.Info("queued market resolution", slog.String("question_id", questionID))
	return nil
}

// nonZero reports whether s is a decimal integer other than zero.
func nonZero(s string) bool {
	if s == "" {
		return false
	}
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() != 0
}

var (
	_ Router = (*ExchangeRouter)(nil)
	_ Router = (*ResolutionRouter)(nil)
)
