package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
)

// ChunkPolicy decides what a range scan does with a chunk it cannot fetch.
type ChunkPolicy string

const (
	// ChunkSkip logs the gap and moves on.
	ChunkSkip ChunkPolicy = "skip"
	// ChunkRetry retries the chunk a bounded number of times, then skips.
	ChunkRetry ChunkPolicy = "retry"
	// ChunkAbort stops the scan with the error.
	ChunkAbort ChunkPolicy = "abort"
)

// LogHandler consumes decoded events in chain order.
type LogHandler interface {
	HandleLog(ctx context.Context, ev domain.RawEvent) error
}

// Alerter receives operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options tunes a Watcher.
type Options struct {
	ResubscribeDelay time.Duration
	ChunkSize        uint64
	Policy           ChunkPolicy
	MaxRetries       int
	RetryDelay       time.Duration
}

// Watcher feeds the logs of one contract family to a handler.
type Watcher struct {
	src      LogSource
	contract Contract
	handler  LogHandler
	alerter  Alerter
	opts     Options
	logger   *slog.Logger
}

// NewWatcher creates a watcher. alerter may be nil.
func NewWatcher(src LogSource, contract Contract, handler LogHandler, alerter Alerter, opts Options, logger *slog.Logger) *Watcher {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 10
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = 5 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = ChunkSkip
	}
	return &Watcher{
		src:      src,
		contract: contract,
		handler:  handler,
		alerter:  alerter,
		opts:     opts,
		logger:   logger.With(slog.String("component", "watcher"), slog.String("family", contract.Name())),
	}
}

// Watch subscribes to every address of the family and handles logs as they
// arrive. Subscription failures are logged and followed by a resubscribe
// after the configured delay. Watch returns only when ctx is done.
func (w *Watcher) Watch(ctx context.Context, addresses []common.Address) error {
	q := ethereum.FilterQuery{Addresses: addresses, Topics: w.contract.Topics()}
	w.logger.InfoContext(ctx, "watching contracts", slog.Int("addresses", len(addresses)))

	for {
		err := w.subscribeOnce(ctx, q)
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped")
			return nil
		}
		metrics.SubscriptionErrors.WithLabelValues(w.contract.Name()).Inc()
		w.logger.Error("subscription failed, resubscribing",
			slog.String("error", err.Error()),
			slog.Duration("delay", w.opts.ResubscribeDelay),
		)
		if !sleep(ctx, w.opts.ResubscribeDelay) {
			w.logger.Info("watcher stopped")
			return nil
		}
	}
}

func (w *Watcher) subscribeOnce(ctx context.Context, q ethereum.FilterQuery) error {
	ch := make(chan types.Log, 128)
	sub, err := w.src.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case l := <-ch:
			metrics.LogsReceived.WithLabelValues(w.contract.Name(), "live").Inc()
			if err := w.handle(ctx, l); err != nil {
				w.logger.Error("handle live log",
					slog.String("tx_hash", l.TxHash.Hex()),
					slog.Uint64("block", l.BlockNumber),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// handle decodes and forwards one log. Undecodable logs are counted and
// dropped.
func (w *Watcher) handle(ctx context.Context, l types.Log) error {
	if l.Removed {
		w.logger.Debug("ignoring removed log", slog.String("tx_hash", l.TxHash.Hex()))
		return nil
	}
	ev, err := Decode(w.contract, l)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(w.contract.Name()).Inc()
		w.logger.Warn("decode log",
			slog.String("tx_hash", l.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return w.handler.HandleLog(ctx, ev)
}

// Chunk is an inclusive block range.
type Chunk struct {
	From, To uint64
}

// Chunks splits [from, to] into ranges whose ends fall on multiples of size,
// so from=0 to=25 size=10 gives [0,10] [11,20] [21,25].
func Chunks(from, to, size uint64) []Chunk {
	if size == 0 || from > to {
		return nil
	}
	var out []Chunk
	start := from
	for {
		end := (start/size + 1) * size
		if end > to || end < start {
			end = to
		}
		out = append(out, Chunk{From: start, To: end})
		if end >= to {
			return out
		}
		start = end + 1
	}
}

// ScanRange fetches the family's logs of address over [from, to] chunk by
// chunk, in order, applying the chunk policy to failures.
func (w *Watcher) ScanRange(ctx context.Context, address common.Address, from, to uint64) error {
	addr := address.Hex()
	logger := w.logger.With(slog.String("address", addr))
	logger.InfoContext(ctx, "scanning range", slog.Uint64("from", from), slog.Uint64("to", to))

	for _, ch := range Chunks(from, to, w.opts.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.scanChunk(ctx, address, ch)
		if err == nil {
			metrics.ChunksScanned.WithLabelValues(addr).Inc()
			metrics.BackfillHeight.WithLabelValues(addr).Set(float64(ch.To))
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if w.opts.Policy == ChunkAbort {
			return fmt.Errorf("chain: scan %s [%d,%d]: %w", addr, ch.From, ch.To, err)
		}
		metrics.ChunksSkipped.WithLabelValues(addr).Inc()
		metrics.BackfillHeight.WithLabelValues(addr).Set(float64(ch.To))
		logger.Error("skipping chunk",
			slog.Uint64("from", ch.From),
			slog.Uint64("to", ch.To),
			slog.String("error", err.Error()),
		)
		if w.alerter != nil {
			_ = w.alerter.Notify(ctx, "chunk_skipped", "Backfill gap",
				fmt.Sprintf("%s %s blocks %d-%d: %v", w.contract.Name(), addr, ch.From, ch.To, err))
		}
	}
	logger.InfoContext(ctx, "range scan complete", slog.Uint64("from", from), slog.Uint64("to", to))
	return nil
}

// scanChunk fetches and handles one chunk, retrying under ChunkRetry.
func (w *Watcher) scanChunk(ctx context.Context, address common.Address, ch Chunk) error {
	attempts := 1
	if w.opts.Policy == ChunkRetry {
		attempts += w.opts.MaxRetries
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && !sleep(ctx, w.opts.RetryDelay) {
			return ctx.Err()
		}
		if err = w.fetchChunk(ctx, address, ch); err == nil {
			return nil
		}
		metrics.ChunkFailures.WithLabelValues(address.Hex()).Inc()
		w.logger.Warn("chunk failed",
			slog.String("address", address.Hex()),
			slog.Uint64("from", ch.From),
			slog.Uint64("to", ch.To),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (w *Watcher) fetchChunk(ctx context.Context, address common.Address, ch Chunk) error {
	logs, err := w.src.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(ch.From),
		ToBlock:   new(big.Int).SetUint64(ch.To),
		Addresses: []common.Address{address},
		Topics:    w.contract.Topics(),
	})
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	for _, l := range logs {
		metrics.LogsReceived.WithLabelValues(w.contract.Name(), "scan").Inc()
		if err := w.handle(ctx, l); err != nil {
			return fmt.Errorf("handle log %s#%d: %w", l.TxHash.Hex(), l.Index, err)
		}
	}
	return nil
}

// Backfill scans every address over [from, to] concurrently. to == 0 means
// the current chain head.
func (w *Watcher) Backfill(ctx context.Context, addresses []common.Address, from, to uint64) error {
	if to == 0 {
		head, err := w.src.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("chain: read head: %w", err)
		}
		to = head
	}
	if from > to {
		return fmt.Errorf("chain: backfill range [%d,%d] is empty", from, to)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addresses {
		g.Go(func() error { return w.ScanRange(gctx, addr, from, to) })
	}
	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
