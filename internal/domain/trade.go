package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of the outcome-token transfer relative to the maker.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is a normalized OrdersMatched leg. Amounts are display-scale
// decimals (raw on-chain units divided by 10^6).
type Trade struct {
	ID              int64
	TransactionHash string
	BlockNumber     uint64
	LogIndex        uint
	Maker           string
	Taker           string // empty when the event has no taker
	OrderHash       string
	AssetID         string
	Side            Side
	MarketSlug      string // empty until the market is known
	Outcome         string
	Price           decimal.Decimal
	Shares          decimal.Decimal
	USDCVolume      decimal.Decimal
	Timestamp       time.Time
	CreatedAt       time.Time
}
