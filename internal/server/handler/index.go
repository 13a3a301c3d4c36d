package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// IndexHandler serves read-only views of the indexed data.
type IndexHandler struct {
	events  domain.EventStore
	markets domain.MarketStore
	trades  domain.TradeStore
	logger  *slog.Logger
}

// NewIndexHandler creates an IndexHandler.
func NewIndexHandler(events domain.EventStore, markets domain.MarketStore, trades domain.TradeStore, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{events: events, markets: markets, trades: trades, logger: logHandler(logger, "index")}
}

// Stats returns row counts of the three tables.
// GET /api/stats
func (h *IndexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var events, markets, trades int64
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { events, err = h.events.Count(ctx); return })
	g.Go(func() (err error) { markets, err = h.markets.Count(ctx); return })
	g.Go(func() (err error) { trades, err = h.trades.Count(ctx); return })
	if err := g.Wait(); err != nil {
		h.logger.ErrorContext(r.Context(), "count rows", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"events": events, "markets": markets, "trades": trades})
}

type marketView struct {
	ConditionID  string            `json:"condition_id"`
	QuestionID   string            `json:"question_id,omitempty"`
	Slug         string            `json:"slug"`
	ClobTokenID0 string            `json:"clob_token_id0,omitempty"`
	ClobTokenID1 string            `json:"clob_token_id1,omitempty"`
	Data         domain.MarketData `json:"data"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// GetMarketByToken returns the market an outcome token belongs to.
// GET /api/markets/{tokenId}
func (h *IndexHandler) GetMarketByToken(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("tokenId")
	m, err := h.markets.GetByTokenID(r.Context(), tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get market", slog.String("token_id", tokenID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load market")
		return
	}
	writeJSON(w, http.StatusOK, marketView{
		ConditionID:  m.ConditionID,
		QuestionID:   m.QuestionID,
		Slug:         m.Slug,
		ClobTokenID0: m.ClobTokenID0,
		ClobTokenID1: m.ClobTokenID1,
		Data:         m.Data,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	})
}

type tradeView struct {
	TransactionHash string    `json:"transaction_hash"`
	BlockNumber     uint64    `json:"block_number"`
	LogIndex        uint      `json:"log_index"`
	Maker           string    `json:"maker"`
	Taker           string    `json:"taker,omitempty"`
	AssetID         string    `json:"asset_id"`
	Side            string    `json:"side"`
	MarketSlug      string    `json:"market_slug"`
	Outcome         string    `json:"outcome"`
	Price           string    `json:"price"`
	Shares          string    `json:"shares"`
	USDCVolume      string    `json:"usdc_volume"`
	Timestamp       time.Time `json:"timestamp"`
}

// ListTrades returns the most recent trades of one outcome token.
// GET /api/trades?asset_id=ID&since=RFC3339&until=RFC3339&limit=N&offset=N
func (h *IndexHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetID := q.Get("asset_id")
	if assetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	opts := domain.ListOpts{Limit: parseLimit(r)}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		opts.Offset = n
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, p.name+" must be RFC3339")
			return
		}
		*p.dst = &t
	}

	trades, err := h.trades.ListByAsset(r.Context(), assetID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	out := make([]tradeView, len(trades))
	for i, t := range trades {
		out[i] = tradeView{
			TransactionHash: t.TransactionHash,
			BlockNumber:     t.BlockNumber,
			LogIndex:        t.LogIndex,
			Maker:           t.Maker,
			Taker:           t.Taker,
			AssetID:         t.AssetID,
			Side:            string(t.Side),
			MarketSlug:      t.MarketSlug,
			Outcome:         t.Outcome,
			Price:           t.Price.String(),
			Shares:          t.Shares.String(),
			USDCVolume:      t.USDCVolume.String(),
			Timestamp:       t.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": assetID, "trades": out})
}
