package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc63/pqtrader/internal/portfolio"
)

func TestComputeEmptyHistory(t *testing.T) {
	s := Compute(nil, 100_000, 0)
	assert.Zero(t, s.Days)
	assert.Zero(t, s.TotalReturn)
}

func TestComputeMetrics(t *testing.T) {
	history := []portfolio.DailyEquity{
		{Date: "2024-03-04", NetWorth: 102_000},
		{Date: "2024-03-05", NetWorth: 99_000},
		{Date: "2024-03-06", NetWorth: 105_000},
	}
	s := Compute(history, 100_000, 0.01)

	assert.Equal(t, 3, s.Days)
	assert.InDelta(t, 0.05, s.TotalReturn, 1e-9)
	assert.InDelta(t, 105_000, s.FinalNetWorth, 1e-9)
	assert.Greater(t, s.AnnualizedReturn, s.TotalReturn, "three profitable days annualize far higher")
	// Peak 102000, trough 99000.
	assert.InDelta(t, 3000.0/102_000, s.MaxDrawdown, 1e-9)
	assert.Greater(t, s.Volatility, 0.0)
	assert.InDelta(t, 0.01, s.BenchmarkReturn, 1e-9)
}

func TestComputeFlatCurveHasNoDrawdown(t *testing.T) {
	history := []portfolio.DailyEquity{
		{Date: "2024-03-04", NetWorth: 100_000},
		{Date: "2024-03-05", NetWorth: 100_000},
	}
	s := Compute(history, 100_000, 0)
	assert.Zero(t, s.MaxDrawdown)
	assert.Zero(t, s.SharpeRatio)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	s := Compute([]portfolio.DailyEquity{{Date: "2024-03-04", NetWorth: 101_000}}, 100_000, 0.02)
	require.NoError(t, Render(&buf, s, true))

	out := buf.String()
	assert.Contains(t, out, "Total return")
	assert.Contains(t, out, "1.00%")
	assert.Contains(t, out, "Benchmark return")
}
