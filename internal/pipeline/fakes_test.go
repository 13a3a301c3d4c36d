package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/queue"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func jobFor(t *testing.T, jobType, key string, payload any) *queue.Job {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: key, Type: jobType, Payload: b, MaxAttempts: 5}
}

type memMarkets struct {
	mu      sync.Mutex
	rows    map[string]domain.Market
	upserts int
}

func newMemMarkets() *memMarkets { return &memMarkets{rows: map[string]domain.Market{}} }

func (s *memMarkets) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Round-trip the blob like the jsonb column does.
	b, err := json.Marshal(m.Data)
	if err != nil {
		return err
	}
	var data domain.MarketData
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	if old, ok := s.rows[m.ConditionID]; ok {
		if m.QuestionID == "" {
			m.QuestionID = old.QuestionID
		}
		m.CreatedAt = old.CreatedAt
	}
	m.Data = data
	s.rows[m.ConditionID] = m
	s.upserts++
	return nil
}

func (s *memMarkets) find(match func(domain.Market) bool, label string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if match(m) {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("market %s: %w", label, domain.ErrNotFound)
}

func (s *memMarkets) GetByConditionID(_ context.Context, id string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.ConditionID == id }, id)
}

func (s *memMarkets) GetByQuestionID(_ context.Context, id string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.QuestionID == id }, id)
}

func (s *memMarkets) GetByTokenID(_ context.Context, id string) (domain.Market, error) {
	return s.find(func(m domain.Market) bool { return m.ClobTokenID0 == id || m.ClobTokenID1 == id }, id)
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type memTrades struct {
	mu   sync.Mutex
	rows []domain.Trade
}

func (s *memTrades) Insert(_ context.Context, t domain.Trade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.TransactionHash == t.TransactionHash && r.LogIndex == t.LogIndex {
			return false, nil
		}
	}
	s.rows = append(s.rows, t)
	return true, nil
}

func (s *memTrades) ListCreatedBetween(_ context.Context, from, to time.Time, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, r := range s.rows {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	return page(out, opts), nil
}

func (s *memTrades) ListByAsset(context.Context, string, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTrades) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

type memEvents struct {
	rows []domain.RawEvent
}

func (s *memEvents) Insert(context.Context, domain.RawEvent) (bool, error) { return true, nil }
func (s *memEvents) Count(context.Context) (int64, error)                  { return int64(len(s.rows)), nil }

func (s *memEvents) ListCreatedBetween(_ context.Context, from, to time.Time, opts domain.ListOpts) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	for _, r := range s.rows {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	return page(out, opts), nil
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(rows) {
		return nil
	}
	rows = rows[opts.Offset:]
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

type fakeProvider struct {
	mu      sync.Mutex
	records map[string]domain.MarketData
	err     error
	calls   int
}

func (p *fakeProvider) MarketByTokenID(_ context.Context, tokenID string) (domain.MarketData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return domain.MarketData{}, p.err
	}
	md, ok := p.records[tokenID]
	if !ok {
		return domain.MarketData{}, fmt.Errorf("token %s: %w", tokenID, domain.ErrNotFound)
	}
	return md, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type enqueuedJob struct {
	jobType string
	key     string
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, jobType string, _ any, key string, _ queue.JobOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, enqueuedJob{jobType: jobType, key: key})
	return true, nil
}

type recordingAlerter struct {
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.events = append(a.events, event)
	return nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	return b.store(path, data)
}

func (b *memBlobs) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return b.store(path, data)
}

func (b *memBlobs) store(path string, data io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = buf.Bytes()
	return nil
}

func (b *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}
