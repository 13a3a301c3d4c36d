package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists raw contract events. Insert reports whether a new row
// was written; a duplicate (transaction hash, event name, block number) is
// not an error and returns false.
type EventStore interface {
	Insert(ctx context.Context, ev RawEvent) (bool, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time, opts ListOpts) ([]RawEvent, error)
	Count(ctx context.Context) (int64, error)
}

// MarketStore persists market reference data keyed by condition id.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByConditionID(ctx context.Context, conditionID string) (Market, error)
	GetByQuestionID(ctx context.Context, questionID string) (Market, error)
	GetByTokenID(ctx context.Context, tokenID string) (Market, error)
	Count(ctx context.Context) (int64, error)
}

// TradeStore persists normalized trades. Insert is idempotent on
// (transaction hash, log index) and reports whether a row was written.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) (bool, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time, opts ListOpts) ([]Trade, error)
	ListByAsset(ctx context.Context, assetID string, opts ListOpts) ([]Trade, error)
	Count(ctx context.Context) (int64, error)
}
