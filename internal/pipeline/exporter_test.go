package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

func TestExporter_ExportDay(t *testing.T) {
	day := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)
	trades := &memTrades{rows: []domain.Trade{
		{
			TransactionHash: "0xa", BlockNumber: 10, LogIndex: 1, Maker: "0xm",
			AssetID: "7", Side: domain.SideSell, MarketSlug: "rain", Outcome: "Yes",
			Price: decimal.RequireFromString("0.5"), Shares: decimal.RequireFromString("2"),
			USDCVolume: decimal.RequireFromString("1"),
			Timestamp:  day.Add(time.Hour), CreatedAt: day.Add(time.Hour),
		},
		{TransactionHash: "0xold", CreatedAt: day.Add(-time.Minute)},
	}}
	events := &memEvents{rows: []domain.RawEvent{{
		TransactionHash: "0xa", BlockNumber: 10, LogIndex: 1,
		ContractAddress: "0xexchange", EventName: "OrdersMatched",
		Args:      map[string]any{"making": "1"},
		CreatedAt: day.Add(2 * time.Hour),
	}}}
	blobs := newMemBlobs()
	e := NewExporter(trades, events, blobs, blobs, "exports", discardLogger())

	require.NoError(t, e.ExportDay(context.Background(), day.Add(13*time.Hour)))

	tradeCSV, ok := blobs.objects["exports/trades/2024/04/09.csv"]
	require.True(t, ok)
	records, err := csv.NewReader(bytes.NewReader(tradeCSV)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, tradeHeader, records[0])
	assert.Equal(t, []string{
		"0xa", "10", "1", "0xm", "", "", "7", "SELL", "rain", "Yes", "0.5", "2", "1",
		"2024-04-09T01:00:00Z", "2024-04-09T01:00:00Z",
	}, records[1])

	eventCSV, ok := blobs.objects["exports/events/2024/04/09.csv"]
	require.True(t, ok)
	records, err = csv.NewReader(bytes.NewReader(eventCSV)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"making":"1"}`, records[1][5])
}

func TestExporter_SkipsExistingAndEmpty(t *testing.T) {
	day := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)
	trades := &memTrades{rows: []domain.Trade{{TransactionHash: "0xa", CreatedAt: day}}}
	blobs := newMemBlobs()
	blobs.objects["exports/trades/2024/04/09.csv"] = []byte("kept")
	e := NewExporter(trades, &memEvents{}, blobs, blobs, "exports", discardLogger())

	require.NoError(t, e.ExportDay(context.Background(), day))
	assert.Equal(t, []byte("kept"), blobs.objects["exports/trades/2024/04/09.csv"])
	_, ok := blobs.objects["exports/events/2024/04/09.csv"]
	assert.False(t, ok, "no file for a day without rows")
}

func TestExporter_RunExportsYesterday(t *testing.T) {
	trades := &memTrades{rows: []domain.Trade{{
		TransactionHash: "0xa",
		CreatedAt:       time.Date(2024, 4, 9, 23, 59, 0, 0, time.UTC),
	}}}
	blobs := newMemBlobs()
	e := NewExporter(trades, &memEvents{}, blobs, blobs, "exports", discardLogger())
	e.now = func() time.Time { return time.Date(2024, 4, 10, 2, 0, 0, 0, time.UTC) }

	require.NoError(t, e.Run(context.Background()))
	_, ok := blobs.objects["exports/trades/2024/04/09.csv"]
	assert.True(t, ok)
}
