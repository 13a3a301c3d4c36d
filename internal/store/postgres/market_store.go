package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, condition_id, question_id, slug,
	clob_token_id0, clob_token_id1, data, created_at, updated_at`

// Upsert inserts m or, when its condition id exists, replaces the reference
// blob and token slots and bumps updated_at. A known question id is never
// cleared by a record that lacks one.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("postgres: encode market data %s: %w", m.ConditionID, err)
	}

	const query = `
		INSERT INTO markets (
			condition_id, question_id, slug,
			clob_token_id0, clob_token_id1, data,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW(), NOW())
		ON CONFLICT (condition_id) DO UPDATE SET
			question_id    = COALESCE(EXCLUDED.question_id, markets.question_id),
			slug           = EXCLUDED.slug,
			clob_token_id0 = COALESCE(EXCLUDED.clob_token_id0, markets.clob_token_id0),
			clob_token_id1 = COALESCE(EXCLUDED.clob_token_id1, markets.clob_token_id1),
			data           = EXCLUDED.data,
			updated_at     = NOW()`

	_, err = s.pool.Exec(ctx, query,
		m.ConditionID, nullable(m.QuestionID), m.Slug,
		nullable(m.ClobTokenID0), nullable(m.ClobTokenID1), string(data),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// GetByConditionID retrieves a market by its upsert key.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	return s.getOne(ctx, "condition_id = $1", conditionID, "condition "+conditionID)
}

// GetByQuestionID retrieves the market a resolution adapter question maps to.
func (s *MarketStore) GetByQuestionID(ctx context.Context, questionID string) (domain.Market, error) {
	return s.getOne(ctx, "question_id = $1", questionID, "question "+questionID)
}

// GetByTokenID retrieves a market by either outcome-token slot.
func (s *MarketStore) GetByTokenID(ctx context.Context, tokenID string) (domain.Market, error) {
	return s.getOne(ctx, "clob_token_id0 = $1 OR clob_token_id1 = $1", tokenID, "token "+tokenID)
}

func (s *MarketStore) getOne(ctx context.Context, where string, arg any, label string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE `+where+` ORDER BY id LIMIT 1`, arg)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by %s: %w", label, err)
	}
	return m, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m              domain.Market
		questionID     *string
		token0, token1 *string
		data           []byte
	)
	if err := row.Scan(
		&m.ID, &m.ConditionID, &questionID, &m.Slug,
		&token0, &token1, &data, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	m.QuestionID = deref(questionID)
	m.ClobTokenID0 = deref(token0)
	m.ClobTokenID1 = deref(token1)
	if err := json.Unmarshal(data, &m.Data); err != nil {
		return domain.Market{}, fmt.Errorf("decode data of market %s: %w", m.ConditionID, err)
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
