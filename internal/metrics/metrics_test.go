package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(JobsDebounced.WithLabelValues("market-queue", "fetch-market-metadata"))
	JobsDebounced.WithLabelValues("market-queue", "fetch-market-metadata").Inc()
	after := testutil.ToFloat64(JobsDebounced.WithLabelValues("market-queue", "fetch-market-metadata"))
	assert.Equal(t, before+1, after)
}

func TestLabelArity(t *testing.T) {
	assert.NotPanics(t, func() { LogsReceived.WithLabelValues("exchange", "live").Inc() })
	assert.NotPanics(t, func() { ChunksSkipped.WithLabelValues("0xabc").Inc() })
	assert.NotPanics(t, func() { BackfillHeight.WithLabelValues("0xabc").Set(10) })
	assert.NotPanics(t, func() { JobDuration.WithLabelValues("trade-queue", "trade-processing").Observe(0.1) })
	assert.NotPanics(t, func() { TradesSaved.WithLabelValues("BUY").Inc() })
	assert.NotPanics(t, func() { MarketsAbsent.WithLabelValues("no_record").Inc() })
}
