package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/pipeline"
	"github.com/alanyoungcy/polyindexer/internal/server"
	"github.com/alanyoungcy/polyindexer/internal/server/handler"
)

// LiveMode subscribes to every configured contract and runs the workers.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	idx := a.buildIndexer(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return idx.runner.Start(ctx) })
	a.watch(ctx, g, idx.exchange, idx.exchangeAddr)
	a.watch(ctx, g, idx.adapter, idx.adapterAddr)
	a.startHTTPServer(ctx, g, deps, idx.runner)
	a.startExporter(ctx, g, deps)

	return ignoreCanceled(g.Wait())
}

// BackfillMode scans [from_block, to_block] for every configured contract.
// The workers keep draining the queues after the scan finishes, until ctx
// is cancelled.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	from, to := a.cfg.Chain.FromBlock, a.cfg.Chain.ToBlock
	a.logger.InfoContext(ctx, "starting backfill mode",
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", to),
	)
	idx := a.buildIndexer(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return idx.runner.Start(ctx) })
	g.Go(func() error {
		start := time.Now()
		scan, sctx := errgroup.WithContext(ctx)
		if len(idx.exchangeAddr) > 0 {
			scan.Go(func() error { return idx.exchange.Backfill(sctx, idx.exchangeAddr, from, to) })
		}
		if len(idx.adapterAddr) > 0 {
			scan.Go(func() error { return idx.adapter.Backfill(sctx, idx.adapterAddr, from, to) })
		}
		if err := scan.Wait(); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "backfill scan finished; workers keep draining",
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	})
	a.startHTTPServer(ctx, g, deps, idx.runner)
	a.startExporter(ctx, g, deps)

	return ignoreCanceled(g.Wait())
}

func (a *App) watch(ctx context.Context, g *errgroup.Group, w *chain.Watcher, addrs []common.Address) {
	if len(addrs) == 0 {
		return
	}
	g.Go(func() error { return w.Watch(ctx, addrs) })
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, runner *pipeline.Runner) {
	if !a.cfg.Server.Enabled {
		return
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Queues: handler.NewQueueHandler(runner, a.logger),
		Index:  handler.NewIndexHandler(deps.EventStore, deps.MarketStore, deps.TradeStore, a.logger),
	}, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) startExporter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Export.Enabled || deps.BlobWriter == nil {
		return
	}
	exp := pipeline.NewExporter(deps.TradeStore, deps.EventStore, deps.BlobWriter, deps.BlobReader,
		a.cfg.Export.Prefix, a.logger)
	g.Go(func() error { return exp.RunCron(ctx, a.cfg.Export.Cron) })
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
