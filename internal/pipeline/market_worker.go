package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/metrics"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

// MarketProvider looks up provider reference data for an outcome token.
// Absent markets are reported with an error wrapping domain.ErrNotFound.
type MarketProvider interface {
	MarketByTokenID(ctx context.Context, tokenID string) (domain.MarketData, error)
}

// Alerter receives operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketWorker keeps the markets table in step with the provider. It handles
// metadata fetches triggered by trades and resolution reconciliation
// triggered by QuestionResolved events.
type MarketWorker struct {
	provider MarketProvider
	markets  domain.MarketStore
	locks    domain.LockManager
	lockTTL  time.Duration
	alerter  Alerter
	now      func() time.Time
	logger   *slog.Logger
}

// NewMarketWorker creates a MarketWorker. alerter may be nil.
func NewMarketWorker(provider MarketProvider, markets domain.MarketStore, locks domain.LockManager, lockTTL time.Duration, alerter Alerter, logger *slog.Logger) *MarketWorker {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &MarketWorker{
		provider: provider,
		markets:  markets,
		locks:    locks,
		lockTTL:  lockTTL,
		alerter:  alerter,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "market_worker")),
	}
}

// Register binds both market job types on w.
func (m *MarketWorker) Register(w *queue.Worker) {
	w.Handle(domain.JobFetchMarketMetadata, m.HandleFetch)
	w.Handle(domain.JobProcessMarketResolution, m.HandleResolution)
}

// HandleFetch stores the provider record for a token. A market the provider
// does not know, or a record without condition id or slug, completes the
// job without a write.
func (m *MarketWorker) HandleFetch(ctx context.Context, job *queue.Job) error {
	var p domain.FetchMarketPayload
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	if p.TokenID == "" {
		return queue.Permanent(fmt.Errorf("fetch market: job %s has no token id", job.ID))
	}

	md, err := m.provider.MarketByTokenID(ctx, p.TokenID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.MarketsAbsent.WithLabelValues("not_found").Inc()
		m.logger.InfoContext(ctx, "no market for token", slog.String("token_id", p.TokenID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch market for token %s: %w", p.TokenID, err)
	}
	if md.ConditionID == "" || md.Slug == "" {
		metrics.MarketsAbsent.WithLabelValues("incomplete").Inc()
		m.logger.WarnContext(ctx, "provider record lacks condition id or slug",
			slog.String("token_id", p.TokenID),
			slog.String("condition_id", md.ConditionID),
			slog.String("slug", md.Slug),
		)
		return nil
	}

	market, created, err := m.save(ctx, md.ConditionID, func(cur *domain.Market) {
		cur.Data.Merge(md)
	})
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "stored market",
		slog.String("slug", market.Slug),
		slog.String("condition_id", market.ConditionID),
		slog.Bool("created", created),
	)
	return nil
}

// HandleResolution merges a settlement into the market's blob once the
// provider reports the market closed. Unknown and still-open markets are
// retried.
func (m *MarketWorker) HandleResolution(ctx context.Context, job *queue.Job) error {
	var p domain.ResolutionPayload
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	if p.QuestionID == "" {
		return queue.Permanent(fmt.Errorf("resolve market: job %s has no question id", job.ID))
	}

	market, err := m.markets.GetByQuestionID(ctx, p.QuestionID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("resolve question %s: %w", p.QuestionID, domain.ErrMarketNotFound)
	}
	if err != nil {
		return fmt.Errorf("resolve question %s: %w", p.QuestionID, err)
	}

	var fresh *domain.MarketData
	if market.ClobTokenID0 != "" {
		md, err := m.provider.MarketByTokenID(ctx, market.ClobTokenID0)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			m.logger.WarnContext(ctx, "provider lost resolved market",
				slog.String("question_id", p.QuestionID),
				slog.String("token_id", market.ClobTokenID0),
			)
		case err != nil:
			return fmt.Errorf("refresh market %s: %w", market.Slug, err)
		case !md.Closed:
			return fmt.Errorf("resolve %s: %w", market.Slug, domain.ErrMarketOpen)
		default:
			fresh = &md
		}
	}

	res := domain.Resolution{
		SettledPrice:    p.SettledPrice,
		Payouts:         p.Payouts,
		ResolvedAt:      m.now().UTC(),
		TransactionHash: p.TransactionHash,
	}
	market, _, err = m.save(ctx, market.ConditionID, func(cur *domain.Market) {
		if fresh != nil {
			cur.Data.Merge(*fresh)
		}
		cur.Data.Resolution = &res
	})
	if err != nil {
		return err
	}

	metrics.MarketsResolved.Inc()
	m.logger.InfoContext(ctx, "market resolved",
		slog.String("slug", market.Slug),
		slog.String("question_id", p.QuestionID),
		slog.String("settled_price", p.SettledPrice),
	)
	if m.alerter != nil {
		_ = m.alerter.Notify(ctx, "market_resolved", "Market resolved",
			fmt.Sprintf("%s settled at %s (payouts %v)", market.Slug, p.SettledPrice, p.Payouts))
	}
	return nil
}

// save runs a read-modify-write of the market under a per-condition lock.
// A market not stored yet starts empty.
func (m *MarketWorker) save(ctx context.Context, conditionID string, patch func(*domain.Market)) (domain.Market, bool, error) {
	unlock, err := m.locks.Acquire(ctx, "market:"+conditionID, m.lockTTL)
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("lock market %s: %w", conditionID, err)
	}
	defer unlock()

	cur, err := m.markets.GetByConditionID(ctx, conditionID)
	created := errors.Is(err, domain.ErrNotFound)
	if err != nil && !created {
		return domain.Market{}, false, fmt.Errorf("load market %s: %w", conditionID, err)
	}
	if created {
		cur = domain.Market{ConditionID: conditionID}
	}

	patch(&cur)
	if cur.Data.ConditionID == "" {
		cur.Data.ConditionID = conditionID
	}
	if cur.Data.Slug != "" {
		cur.Slug = cur.Data.Slug
	}
	if cur.Data.QuestionID != "" {
		cur.QuestionID = cur.Data.QuestionID
	}
	if id := cur.Data.ClobTokenIDs.At(0); id != "" {
		cur.ClobTokenID0 = id
	}
	if id := cur.Data.ClobTokenIDs.At(1); id != "" {
		cur.ClobTokenID1 = id
	}

	if err := m.markets.Upsert(ctx, cur); err != nil {
		return domain.Market{}, false, fmt.Errorf("save market %s: %w", conditionID, err)
	}
	metrics.MarketsUpserted.Inc()
	return cur, created, nil
}
