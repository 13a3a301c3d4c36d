package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

const gammaMarket = `[{
  "id": "512340",
  "question": "Will it rain in London tomorrow?",
  "conditionId": "0xcond",
  "slug": "rain-london",
  "questionID": "0xq",
  "clobTokenIds": "[\"111\", \"222\"]",
  "outcomes": "[\"Yes\", \"No\"]",
  "liquidity": "1234.5",
  "closed": false
}]`

func newGamma(t *testing.T, h http.HandlerFunc) *GammaClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGammaClient(srv.URL, time.Second)
}

func TestMarketByTokenID(t *testing.T) {
	var gotQuery string
	g := newGamma(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		gotQuery = r.URL.Query().Get("clob_token_ids")
		_, _ = w.Write([]byte(gammaMarket))
	})

	md, err := g.MarketByTokenID(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "111", gotQuery)
	assert.Equal(t, "0xcond", md.ConditionID)
	assert.Equal(t, "rain-london", md.Slug)
	assert.Equal(t, "0xq", md.QuestionID)
	assert.Equal(t, domain.TokenList{"111", "222"}, md.ClobTokenIDs)
	assert.Equal(t, domain.TokenList{"Yes", "No"}, md.Outcomes)
	assert.False(t, md.Closed)
	require.NotNil(t, md.Liquidity)
	assert.Equal(t, "1234.5", md.Liquidity.String())
	assert.JSONEq(t, `"Will it rain in London tomorrow?"`, string(md.Extra["question"]))
}

func TestMarketByTokenID_Absent(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"empty list": func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`[]`)) },
		"null":       func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`null`)) },
		"404":        func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "no market", http.StatusNotFound) },
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newGamma(t, h).MarketByTokenID(context.Background(), "999")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestMarketByTokenID_TransientErrors(t *testing.T) {
	g := newGamma(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream", http.StatusBadGateway)
	})
	_, err := g.MarketByTokenID(context.Background(), "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	g = newGamma(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err = g.MarketByTokenID(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestMarketByTokenID_SingleObject(t *testing.T) {
	g := newGamma(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"condition_id":"0xc","market_slug":"s"}`))
	})
	md, err := g.MarketByTokenID(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "0xc", md.ConditionID)
	assert.Equal(t, "s", md.Slug)
}

func raw(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestNormalizeMarket_NamingConventions(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"camelCase", `{"conditionId":"0xc","slug":"s","questionID":"0xq","clobTokenIds":"[\"1\",\"2\"]"}`},
		{"snake_case", `{"condition_id":"0xc","market_slug":"s","question_id":"0xq","clob_token_ids":["1","2"]}`},
		{"questionId variant", `{"conditionId":"0xc","slug":"s","questionId":"0xq","clob_token_ids":"[1,2]"}`},
		{"empty canonical falls back", `{"conditionId":"","condition_id":"0xc","slug":null,"market_slug":"s","question_id":"0xq","clobTokenIds":["1","2"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := NormalizeMarket(raw(t, tt.in))
			assert.Equal(t, "0xc", md.ConditionID)
			assert.Equal(t, "s", md.Slug)
			assert.Equal(t, "0xq", md.QuestionID)
			assert.Equal(t, domain.TokenList{"1", "2"}, md.ClobTokenIDs)
			for _, alias := range []string{"condition_id", "market_slug", "question_id", "questionId", "clob_token_ids"} {
				assert.NotContains(t, md.Extra, alias)
			}
		})
	}
}

func TestNormalizeMarket_MalformedTokenList(t *testing.T) {
	md := NormalizeMarket(raw(t, `{"conditionId":"0xc","slug":"s","clobTokenIds":"not json"}`))
	assert.Equal(t, "0xc", md.ConditionID)
	assert.Empty(t, md.ClobTokenIDs)
}

func TestNormalizeMarket_MissingIdentity(t *testing.T) {
	md := NormalizeMarket(raw(t, `{"question":"q"}`))
	assert.Empty(t, md.ConditionID)
	assert.Empty(t, md.Slug)
}
