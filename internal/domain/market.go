package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market is a prediction market keyed by its condition id. Data carries the
// provider reference record plus the resolution sub-record once resolved.
type Market struct {
	ID           int64
	ConditionID  string
	QuestionID   string // empty when unknown
	Slug         string
	ClobTokenID0 string // empty when unknown
	ClobTokenID1 string
	Data         MarketData
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutcomeFor returns the outcome label paired with tokenID, matched by
// position in the token and outcome lists. It returns "" when the token is
// not listed or the lists do not line up.
func (m Market) OutcomeFor(tokenID string) string {
	i := m.Data.ClobTokenIDs.Index(tokenID)
	if i < 0 || i >= len(m.Data.Outcomes) {
		return ""
	}
	return m.Data.Outcomes[i]
}

// Resolution is the settlement record merged into MarketData when a
// QuestionResolved event is reconciled.
type Resolution struct {
	SettledPrice    string    `json:"settledPrice"`
	Payouts         []string  `json:"payouts"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	TransactionHash string    `json:"transactionHash"`
}

// Canonical blob keys.
const (
	KeyConditionID  = "conditionId"
	KeyQuestionID   = "questionID"
	KeySlug         = "slug"
	KeyClobTokenIDs = "clobTokenIds"
	KeyOutcomes     = "outcomes"
	KeyLiquidity    = "liquidity"
	KeyClosed       = "closed"
	KeyResolution   = "resolution"
)

// MarketData is the reference blob stored in markets.data. Fields the indexer
// reads are typed; every other provider field is kept verbatim in Extra and
// written back unchanged.
type MarketData struct {
	ConditionID  string
	QuestionID   string
	Slug         string
	ClobTokenIDs TokenList
	Outcomes     TokenList
	Liquidity    *decimal.Decimal
	Closed       bool
	Resolution   *Resolution
	Extra        map[string]json.RawMessage
}

// Merge overlays src onto d. Non-empty canonical fields of src win, Extra is
// merged key by key, and the resolution sub-record survives unless src has
// its own.
func (d *MarketData) Merge(src MarketData) {
	if src.ConditionID != "" {
		d.ConditionID = src.ConditionID
	}
	if src.QuestionID != "" {
		d.QuestionID = src.QuestionID
	}
	if src.Slug != "" {
		d.Slug = src.Slug
	}
	if len(src.ClobTokenIDs) > 0 {
		d.ClobTokenIDs = src.ClobTokenIDs
	}
	if len(src.Outcomes) > 0 {
		d.Outcomes = src.Outcomes
	}
	if src.Liquidity != nil {
		d.Liquidity = src.Liquidity
	}
	d.Closed = src.Closed
	if src.Resolution != nil {
		d.Resolution = src.Resolution
	}
	if len(src.Extra) > 0 && d.Extra == nil {
		d.Extra = make(map[string]json.RawMessage, len(src.Extra))
	}
	for k, v := range src.Extra {
		d.Extra[k] = v
	}
}

// MarshalJSON flattens the canonical fields and Extra into one object.
func (d MarketData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+8)
	for k, v := range d.Extra {
		out[k] = v
	}
	out[KeyConditionID] = d.ConditionID
	out[KeySlug] = d.Slug
	out[KeyClosed] = d.Closed
	if d.QuestionID != "" {
		out[KeyQuestionID] = d.QuestionID
	}
	if d.ClobTokenIDs != nil {
		out[KeyClobTokenIDs] = []string(d.ClobTokenIDs)
	}
	if d.Outcomes != nil {
		out[KeyOutcomes] = []string(d.Outcomes)
	}
	if d.Liquidity != nil {
		out[KeyLiquidity] = d.Liquidity.String()
	}
	if d.Resolution != nil {
		out[KeyResolution] = d.Resolution
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads an object keyed by the canonical names. Unknown keys
// land in Extra.
func (d *MarketData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = MarketData{}

	if v, ok := raw[KeyConditionID]; ok {
		d.ConditionID = rawString(v)
	}
	if v, ok := raw[KeyQuestionID]; ok {
		d.QuestionID = rawString(v)
	}
	if v, ok := raw[KeySlug]; ok {
		d.Slug = rawString(v)
	}
	if v, ok := raw[KeyClobTokenIDs]; ok {
		d.ClobTokenIDs = ParseTokenList(v)
	}
	if v, ok := raw[KeyOutcomes]; ok {
		d.Outcomes = ParseTokenList(v)
	}
	if v, ok := raw[KeyLiquidity]; ok {
		var liq decimal.Decimal
		if err := liq.UnmarshalJSON(v); err == nil && !isNull(v) {
			d.Liquidity = &liq
		}
	}
	if v, ok := raw[KeyClosed]; ok {
		d.Closed = rawBool(v)
	}
	if v, ok := raw[KeyResolution]; ok && !isNull(v) {
		var res Resolution
		if err := json.Unmarshal(v, &res); err != nil {
			return err
		}
		d.Resolution = &res
	}

	for _, k := range []string{
		KeyConditionID, KeyQuestionID, KeySlug, KeyClobTokenIDs,
		KeyOutcomes, KeyLiquidity, KeyClosed, KeyResolution,
	} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// TokenList is a list of outcome-token ids or outcome labels. Providers send
// it either as a JSON array or as a string holding an encoded JSON array.
type TokenList []string

// UnmarshalJSON never fails: malformed input yields an empty list.
func (l *TokenList) UnmarshalJSON(data []byte) error {
	*l = ParseTokenList(data)
	return nil
}

// Index returns the position of s in the list, or -1.
func (l TokenList) Index(s string) int {
	for i, v := range l {
		if v == s {
			return i
		}
	}
	return -1
}

// At returns the i-th element or "".
func (l TokenList) At(i int) string {
	if i < 0 || i >= len(l) {
		return ""
	}
	return l[i]
}

// ParseTokenList decodes either encoding of a token list. Numeric elements
// keep their literal digits.
func ParseTokenList(data []byte) TokenList {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return TokenList{}
		}
		data = []byte(strings.TrimSpace(s))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return TokenList{}
	}
	out := make(TokenList, 0, len(items))
	for _, item := range items {
		if s := rawString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// rawString returns a JSON string's value, or the literal text of a number.
func rawString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || isNull(v) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return ""
	}
	return n.String()
}

// rawBool accepts a JSON bool or a "true"/"false"/"1" string.
func rawBool(v json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	s := rawString(v)
	return strings.EqualFold(s, "true") || s == "1"
}
