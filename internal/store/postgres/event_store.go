package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, transaction_hash, block_number, log_index,
	contract_address, event_name, args, created_at`

// Insert writes ev unless a row with the same transaction hash, event name
// and block number exists. The unique index makes the check and the write a
// single statement, so concurrent scans of the same range cannot both win.
func (s *EventStore) Insert(ctx context.Context, ev domain.RawEvent) (bool, error) {
	args, err := json.Marshal(ev.Args)
	if err != nil {
		return false, fmt.Errorf("postgres: encode event args %s: %w", ev.TransactionHash, err)
	}

	const query = `
		INSERT INTO events (
			transaction_hash, block_number, log_index,
			contract_address, event_name, args
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (transaction_hash, event_name, block_number) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		ev.TransactionHash, int64(ev.BlockNumber), int32(ev.LogIndex),
		ev.ContractAddress, ev.EventName, string(args),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert event %s/%s: %w", ev.TransactionHash, ev.EventName, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListCreatedBetween returns events stored in [from, to), oldest first.
func (s *EventStore) ListCreatedBetween(ctx context.Context, from, to time.Time, opts domain.ListOpts) ([]domain.RawEvent, error) {
	query, args := createdBetween(`SELECT `+eventCols+` FROM events WHERE TRUE`, nil, from, to, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.RawEvent, error) {
	var events []domain.RawEvent
	for rows.Next() {
		var (
			ev       domain.RawEvent
			block    int64
			logIndex int32
			args     []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.TransactionHash, &block, &logIndex,
			&ev.ContractAddress, &ev.EventName, &args, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.BlockNumber = uint64(block)
		ev.LogIndex = uint(logIndex)
		if err := json.Unmarshal(args, &ev.Args); err != nil {
			return nil, fmt.Errorf("decode args of event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
