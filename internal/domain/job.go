package domain

import "fmt"

// Queue names.
const (
	QueueMarket = "market-queue"
	QueueTrade  = "trade-queue"
)

// Job types.
const (
	JobFetchMarketMetadata     = "fetch-market-metadata"
	JobProcessMarketResolution = "process-market-resolution"
	JobTradeProcessing         = "trade-processing"
)

// FetchMarketPayload asks for the provider record of an outcome token.
type FetchMarketPayload struct {
	TokenID         string `json:"tokenId"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// ResolutionPayload carries a QuestionResolved event to the market worker.
type ResolutionPayload struct {
	QuestionID      string   `json:"questionId"`
	SettledPrice    string   `json:"settledPrice"`
	Payouts         []string `json:"payouts"`
	TransactionHash string   `json:"transactionHash"`
}

// TradePayload carries an OrdersMatched event to the trade worker.
type TradePayload struct {
	TransactionHash string         `json:"transactionHash"`
	BlockNumber     uint64         `json:"blockNumber"`
	LogIndex        uint           `json:"logIndex"`
	Args            map[string]any `json:"args"`
}

// MarketJobKey deduplicates metadata fetches per token.
func MarketJobKey(tokenID string) string { return "market-" + tokenID }

// ResolutionJobKey deduplicates resolution reconciliation per question.
func ResolutionJobKey(questionID string) string { return "resolution-" + questionID }

// TradeJobKey deduplicates trade processing per log.
func TradeJobKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("trade-%s-%d", txHash, logIndex)
}
