package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Numerics are selected as text and parsed with decimal to keep full
// precision.
const tradeSelectCols = `id, transaction_hash, block_number, log_index,
	maker, taker, order_hash, asset_id, side, market_slug, outcome,
	price::text, shares::text, usdc_volume::text, timestamp, created_at`

// Insert writes t. A trade already stored for the same transaction hash and
// log index is skipped and reported as false.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) (bool, error) {
	const query = `
		INSERT INTO trades (
			transaction_hash, block_number, log_index,
			maker, taker, order_hash, asset_id, side,
			market_slug, outcome,
			price, shares, usdc_volume, timestamp
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10,
			$11::numeric, $12::numeric, $13::numeric, $14
		) ON CONFLICT (transaction_hash, log_index) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.TransactionHash, int64(t.BlockNumber), int32(t.LogIndex),
		t.Maker, nullable(t.Taker), t.OrderHash, t.AssetID, string(t.Side),
		nullable(t.MarketSlug), nullable(t.Outcome),
		t.Price.String(), t.Shares.String(), t.USDCVolume.String(), t.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade %s#%d: %w", t.TransactionHash, t.LogIndex, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCreatedBetween returns trades stored in [from, to), oldest first.
func (s *TradeStore) ListCreatedBetween(ctx context.Context, from, to time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := createdBetween(`SELECT `+tradeSelectCols+` FROM trades WHERE TRUE`, nil, from, to, opts)
	return s.list(ctx, query, args)
}

// ListByAsset returns the most recent trades of one outcome token.
func (s *TradeStore) ListByAsset(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE asset_id = $1`
	args := []any{assetID}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	query += " ORDER BY timestamp DESC"
	query, args = paginate(query, args, opts)
	return s.list(ctx, query, args)
}

// Count returns the number of stored trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

func (s *TradeStore) list(ctx context.Context, query string, args []any) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                     domain.Trade
			block                 int64
			logIndex              int32
			taker, slug, outcome  *string
			side                  string
			price, shares, volume string
		)
		if err := rows.Scan(
			&t.ID, &t.TransactionHash, &block, &logIndex,
			&t.Maker, &taker, &t.OrderHash, &t.AssetID, &side, &slug, &outcome,
			&price, &shares, &volume, &t.Timestamp, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.BlockNumber = uint64(block)
		t.LogIndex = uint(logIndex)
		t.Taker = deref(taker)
		t.MarketSlug = deref(slug)
		t.Outcome = deref(outcome)
		t.Side = domain.Side(side)

		var err error
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price of trade %d: %w", t.ID, err)
		}
		if t.Shares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("parse shares of trade %d: %w", t.ID, err)
		}
		if t.USDCVolume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse usdc volume of trade %d: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
