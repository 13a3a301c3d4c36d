package polymarket

import (
	"encoding/json"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// aliases maps each canonical blob key to the other spellings the provider
// uses for it. The Gamma REST API sends camelCase, the CLOB SDK snake_case.
var aliases = map[string][]string{
	domain.KeyConditionID:  {"condition_id"},
	domain.KeySlug:         {"market_slug"},
	domain.KeyQuestionID:   {"question_id", "questionId"},
	domain.KeyClobTokenIDs: {"clob_token_ids"},
}

// NormalizeMarket folds both naming conventions of a provider record onto the
// canonical keys and decodes it. A canonical key wins over its aliases unless
// it is empty; alias keys do not survive into Extra.
func NormalizeMarket(raw map[string]json.RawMessage) domain.MarketData {
	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		fields[k] = v
	}

	for canonical, names := range aliases {
		for _, alias := range names {
			v, ok := fields[alias]
			if !ok {
				continue
			}
			delete(fields, alias)
			if cur, ok := fields[canonical]; !ok || blank(cur) {
				fields[canonical] = v
			}
		}
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return domain.MarketData{}
	}
	var md domain.MarketData
	if err := json.Unmarshal(b, &md); err != nil {
		// Only a malformed resolution sub-record gets here; keep the rest.
		delete(fields, domain.KeyResolution)
		b, _ = json.Marshal(fields)
		_ = json.Unmarshal(b, &md)
	}
	return md
}

func blank(v json.RawMessage) bool {
	s := string(v)
	return s == "" || s == "null" || s == `""`
}
