package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want TokenList
	}{
		{"encoded string", `"[\"111\", \"222\"]"`, TokenList{"111", "222"}},
		{"plain array", `["Yes","No"]`, TokenList{"Yes", "No"}},
		{"numeric elements", `[123456789012345678901234567890, 2]`, TokenList{"123456789012345678901234567890", "2"}},
		{"malformed string", `"[not json"`, TokenList{}},
		{"object", `{"a":1}`, TokenList{}},
		{"null", `null`, TokenList{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTokenList([]byte(tt.in)))
		})
	}
}

func TestMarketData_KeepsUnknownFields(t *testing.T) {
	in := `{"conditionId":"0xc","slug":"will-it-rain","closed":"true",
		"clobTokenIds":"[\"1\",\"2\"]","outcomes":["Yes","No"],
		"liquidity":"1520.25","volume":"99","image":"x.png"}`

	var d MarketData
	require.NoError(t, json.Unmarshal([]byte(in), &d))

	assert.Equal(t, "0xc", d.ConditionID)
	assert.Equal(t, "will-it-rain", d.Slug)
	assert.True(t, d.Closed)
	assert.Equal(t, TokenList{"1", "2"}, d.ClobTokenIDs)
	require.NotNil(t, d.Liquidity)
	assert.Equal(t, "1520.25", d.Liquidity.String())
	assert.Contains(t, d.Extra, "volume")
	assert.Contains(t, d.Extra, "image")

	out, err := json.Marshal(d)
	require.NoError(t, err)

	var again map[string]any
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, "99", again["volume"])
	assert.Equal(t, "x.png", again["image"])
	assert.Equal(t, []any{"1", "2"}, again["clobTokenIds"])
	assert.NotContains(t, again, "resolution")
}

func TestMarketData_MergeKeepsResolution(t *testing.T) {
	resolved := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	d := MarketData{
		ConditionID: "0xc",
		Slug:        "old-slug",
		Resolution:  &Resolution{SettledPrice: "1", ResolvedAt: resolved},
		Extra:       map[string]json.RawMessage{"a": json.RawMessage(`1`)},
	}

	d.Merge(MarketData{
		Slug:   "new-slug",
		Closed: true,
		Extra:  map[string]json.RawMessage{"b": json.RawMessage(`2`)},
	})

	assert.Equal(t, "0xc", d.ConditionID)
	assert.Equal(t, "new-slug", d.Slug)
	assert.True(t, d.Closed)
	require.NotNil(t, d.Resolution)
	assert.Equal(t, "1", d.Resolution.SettledPrice)
	assert.Len(t, d.Extra, 2)
}

func TestMarket_OutcomeFor(t *testing.T) {
	m := Market{Data: MarketData{
		ClobTokenIDs: TokenList{"10", "20"},
		Outcomes:     TokenList{"Yes", "No"},
	}}
	assert.Equal(t, "Yes", m.OutcomeFor("10"))
	assert.Equal(t, "No", m.OutcomeFor("20"))
	assert.Equal(t, "", m.OutcomeFor("30"))

	short := Market{Data: MarketData{ClobTokenIDs: TokenList{"10", "20"}, Outcomes: TokenList{"Yes"}}}
	assert.Equal(t, "", short.OutcomeFor("20"))
}
