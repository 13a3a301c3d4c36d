package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
)

const (
	exportPageSize = 5000
	exportPartSize = 8 * 1024 * 1024
)

// Exporter writes each UTC day's trades and events to object storage as CSV.
// Rows stay in the database; a day whose file already exists is skipped.
type Exporter struct {
	trades domain.TradeStore
	events domain.EventStore
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewExporter creates an Exporter writing under prefix.
func NewExporter(trades domain.TradeStore, events domain.EventStore, writer domain.BlobWriter, reader domain.BlobReader, prefix string, logger *slog.Logger) *Exporter {
	return &Exporter{
		trades: trades,
		events: events,
		writer: writer,
		reader: reader,
		prefix: prefix,
		now:    time.Now,
		logger: logger.With(slog.String("component", "exporter")),
	}
}

// Run exports the previous UTC day.
func (e *Exporter) Run(ctx context.Context) error {
	day := e.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	return e.ExportDay(ctx, day)
}

// ExportDay exports rows created on the UTC day containing day.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	n, err := e.export(ctx, "trades", from, tradeHeader, func(opts domain.ListOpts) ([][]string, error) {
		rows, err := e.trades.ListCreatedBetween(ctx, from, to, opts)
		if err != nil {
			return nil, err
		}
		out := make([][]string, len(rows))
		for i, t := range rows {
			out[i] = tradeRecord(t)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "exported trades", slog.Time("day", from), slog.Int("rows", n))

	n, err = e.export(ctx, "events", from, eventHeader, func(opts domain.ListOpts) ([][]string, error) {
		rows, err := e.events.ListCreatedBetween(ctx, from, to, opts)
		if err != nil {
			return nil, err
		}
		out := make([][]string, 0, len(rows))
		for _, ev := range rows {
			rec, err := eventRecord(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "exported events", slog.Time("day", from), slog.Int("rows", n))
	return nil
}

// ObjectPath returns the key of table's export for day.
func (e *Exporter) ObjectPath(table string, day time.Time) string {
	return path.Join(e.prefix, table, day.UTC().Format("2006/01/02")+".csv")
}

func (e *Exporter) export(ctx context.Context, table string, day time.Time, header []string, page func(domain.ListOpts) ([][]string, error)) (int, error) {
	key := e.ObjectPath(table, day)
	exists, err := e.reader.Exists(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("export %s: check %s: %w", table, key, err)
	}
	if exists {
		e.logger.InfoContext(ctx, "export already present", slog.String("path", key))
		return 0, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("export %s: %w", table, err)
	}

	total := 0
	for offset := 0; ; offset += exportPageSize {
		rows, err := page(domain.ListOpts{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("export %s: list rows: %w", table, err)
		}
		if err := w.WriteAll(rows); err != nil {
			return 0, fmt.Errorf("export %s: encode: %w", table, err)
		}
		total += len(rows)
		if len(rows) < exportPageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("export %s: encode: %w", table, err)
	}
	if total == 0 {
		return 0, nil
	}

	if err := e.writer.PutMultipart(ctx, key, bytes.NewReader(buf.Bytes()), exportPartSize); err != nil {
		return 0, fmt.Errorf("export %s: upload: %w", table, err)
	}
	metrics.ExportRows.WithLabelValues(table).Add(float64(total))
	return total, nil
}

// RunCron runs Run on the cron schedule until ctx is cancelled.
func (e *Exporter) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("export: cron %q: %w", expr, err)
	}
	e.logger.Info("export cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(e.now())
		if err != nil {
			return fmt.Errorf("export: cron %q: %w", expr, err)
		}
		wait := time.Until(next)
		e.logger.Info("export waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("export cron stopped")
			return nil
		case <-timer.C:
			if err := e.Run(ctx); err != nil {
				e.logger.Error("export run failed", slog.String("error", err.Error()))
			}
		}
	}
}

var tradeHeader = []string{
	"transaction_hash", "block_number", "log_index", "maker", "taker", "order_hash",
	"asset_id", "side", "market_slug", "outcome", "price", "shares", "usdc_volume",
	"timestamp", "created_at",
}

func tradeRecord(t domain.Trade) []string {
	return []string{
		t.TransactionHash,
		strconv.FormatUint(t.BlockNumber, 10),
		strconv.FormatUint(uint64(t.LogIndex), 10),
		t.Maker, t.Taker, t.OrderHash, t.AssetID, string(t.Side),
		t.MarketSlug, t.Outcome,
		t.Price.String(), t.Shares.String(), t.USDCVolume.String(),
		t.Timestamp.UTC().Format(time.RFC3339),
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

var eventHeader = []string{
	"transaction_hash", "block_number", "log_index", "contract_address", "event_name", "args", "created_at",
}

func eventRecord(ev domain.RawEvent) ([]string, error) {
	args, err := json.Marshal(ev.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args of %s: %w", ev.TransactionHash, err)
	}
	return []string{
		ev.TransactionHash,
		strconv.FormatUint(ev.BlockNumber, 10),
		strconv.FormatUint(uint64(ev.LogIndex), 10),
		ev.ContractAddress,
		ev.EventName,
		string(args),
		ev.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}
