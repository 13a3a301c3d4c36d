package domain

import "time"

// Event names emitted by the indexed contracts.
const (
	EventOrderFilled      = "OrderFilled"
	EventOrdersMatched    = "OrdersMatched"
	EventQuestionResolved = "QuestionResolved"
)

// RawEvent is a decoded contract log as persisted in the events table. Args
// holds JSON-safe values only: big integers are decimal strings, addresses and
// fixed byte arrays are hex strings.
type RawEvent struct {
	ID              int64
	TransactionHash string
	BlockNumber     uint64
	LogIndex        uint
	ContractAddress string
	EventName       string
	Args            map[string]any
	CreatedAt       time.Time
}

// Arg returns the string form of a named argument, or "" when absent.
func (e RawEvent) Arg(name string) string {
	v, ok := e.Args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// ArgList returns a named list argument as strings. Non-string elements are
// skipped.
func (e RawEvent) ArgList(name string) []string {
	switch v := e.Args[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
