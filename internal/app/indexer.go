package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/config"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/ingest"
	"github.com/alanyoungcy/polyindexer/internal/notify"
	"github.com/alanyoungcy/polyindexer/internal/pipeline"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// indexer is the assembled ingestion and processing graph: one watcher per
// contract family feeding recorders and routers, and the queue workers
// behind them.
type indexer struct {
	exchange     *chain.Watcher
	adapter      *chain.Watcher
	exchangeAddr []common.Address
	adapterAddr  []common.Address
	runner       *pipeline.Runner
}

func (a *App) buildIndexer(deps *Dependencies) *indexer {
	qc := a.cfg.Queue
	rdb := deps.Redis.Underlying()

	marketQ := queue.New(rdb, domain.QueueMarket, queueOptions(qc.Prefix, qc.Market))
	tradeQ := queue.New(rdb, domain.QueueTrade, queueOptions(qc.Prefix, qc.Trade))
	marketOpts := jobOptions(qc.Market.Retry)
	tradeOpts := jobOptions(qc.Trade.Retry)
	resolutionOpts := jobOptions(qc.Resolution)

	exchangeRouter := ingest.NewExchangeRouter(marketQ, tradeQ, marketOpts, tradeOpts, a.logger)
	resolutionRouter := ingest.NewResolutionRouter(marketQ, resolutionOpts, a.logger)
	wopts := watcherOptions(a.cfg.Chain)

	marketW := queue.NewWorker(marketQ, deps.RateLimiter, workerOptions(qc.Market), a.logger)
	pipeline.NewMarketWorker(deps.Gamma, deps.MarketStore, deps.LockManager,
		a.cfg.Polymarket.MarketLockTTL.Duration, deps.Notifier, a.logger).Register(marketW)

	tradeW := queue.NewWorker(tradeQ, deps.RateLimiter, workerOptions(qc.Trade), a.logger)
	pipeline.NewTradeWorker(deps.MarketStore, deps.TradeStore, marketQ, marketOpts, a.logger).Register(tradeW)

	for _, w := range []*queue.Worker{marketW, tradeW} {
		w.OnFailed(a.jobFailedAlert(deps.Notifier))
	}

	return &indexer{
		exchange: chain.NewWatcher(deps.Chain, exchangeRouter.Contract(),
			ingest.NewRecorder(deps.EventStore, exchangeRouter, a.logger), deps.Notifier, wopts, a.logger),
		adapter: chain.NewWatcher(deps.Chain, resolutionRouter.Contract(),
			ingest.NewRecorder(deps.EventStore, resolutionRouter, a.logger), deps.Notifier, wopts, a.logger),
		exchangeAddr: toAddresses(a.cfg.Chain.ExchangeAddresses),
		adapterAddr:  toAddresses(a.cfg.Chain.AdapterAddresses),
		runner:       pipeline.NewRunner(a.logger, marketW, tradeW),
	}
}

func (a *App) jobFailedAlert(n *notify.Notifier) func(context.Context, *queue.Job, error) {
	return func(ctx context.Context, job *queue.Job, err error) {
		msg := fmt.Sprintf("%s job %s on %s failed after %d attempt(s): %v",
			job.Type, job.ID, job.Queue, job.Attempts+1, err)
		if nerr := n.Notify(ctx, notify.EventJobFailed, "Job failed", msg); nerr != nil {
			a.logger.WarnContext(ctx, "job failure alert not delivered", slog.String("error", nerr.Error()))
		}
	}
}

func queueOptions(prefix string, wc config.WorkerConfig) queue.Options {
	return queue.Options{
		Prefix:           prefix,
		KeepCompleted:    wc.KeepCompleted,
		KeepCompletedAge: wc.KeepCompletedAge.Duration,
		KeepFailed:       wc.KeepFailed,
		Defaults:         jobOptions(wc.Retry),
	}
}

func jobOptions(rc config.RetryConfig) queue.JobOptions {
	return queue.JobOptions{
		MaxAttempts: rc.MaxAttempts,
		Backoff: queue.Backoff{
			Initial:    rc.InitialDelay.Duration,
			Multiplier: rc.Multiplier,
			Max:        rc.MaxDelay.Duration,
		},
	}
}

func workerOptions(wc config.WorkerConfig) queue.WorkerOptions {
	return queue.WorkerOptions{
		Concurrency:  wc.Concurrency,
		RateLimit:    wc.RateLimit,
		RateWindow:   wc.RateWindow.Duration,
		PollInterval: wc.PollInterval.Duration,
		LeaseTTL:     wc.LeaseTTL.Duration,
	}
}

func watcherOptions(cc config.ChainConfig) chain.Options {
	return chain.Options{
		ResubscribeDelay: cc.ResubscribeDelay.Duration,
		ChunkSize:        cc.ChunkSize,
		Policy:           chain.ChunkPolicy(strings.ToLower(cc.ChunkFailurePolicy)),
		MaxRetries:       cc.ChunkMaxRetries,
		RetryDelay:       cc.ChunkRetryDelay.Duration,
	}
}

func toAddresses(hex []string) []common.Address {
	out := make([]common.Address, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToAddress(h))
	}
	return out
}
