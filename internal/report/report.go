// Package report computes the end-of-run performance summary and renders
// it as a table.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/olekukonko/tablewriter"

	"github.com/wdc63/pqtrader/internal/portfolio"
)

// tradingDaysPerYear annualizes daily figures.
const tradingDaysPerYear = 252

// Summary holds the run's performance metrics.
type Summary struct {
	Days             int
	TotalReturn      float64
	AnnualizedReturn float64
	MaxDrawdown      float64
	Volatility       float64
	SharpeRatio      float64
	BenchmarkReturn  float64
	FinalNetWorth    float64
}

// Compute derives the summary from the daily equity history. benchmark is
// the benchmark's cumulative return over the same window, or 0 when no
// benchmark is tracked.
func Compute(history []portfolio.DailyEquity, initialCash, benchmark float64) Summary {
	s := Summary{Days: len(history), BenchmarkReturn: benchmark}
	if len(history) == 0 {
		return s
	}
	s.FinalNetWorth = history[len(history)-1].NetWorth
	if initialCash > 0 {
		s.TotalReturn = (s.FinalNetWorth - initialCash) / initialCash
	}
	if s.Days > 0 && s.TotalReturn > -1 {
		s.AnnualizedReturn = math.Pow(1+s.TotalReturn, tradingDaysPerYear/float64(s.Days)) - 1
	}

	// Max drawdown over the net-worth curve, the initial funding included.
	peak := initialCash
	for _, h := range history {
		if h.NetWorth > peak {
			peak = h.NetWorth
		}
		if peak > 0 {
			dd := (peak - h.NetWorth) / peak
			if dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
			}
		}
	}

	// Daily returns from consecutive net-worth points.
	var daily []float64
	prev := initialCash
	for _, h := range history {
		if prev > 0 {
			daily = append(daily, (h.NetWorth-prev)/prev)
		}
		prev = h.NetWorth
	}
	if len(daily) > 1 {
		var mean float64
		for _, r := range daily {
			mean += r
		}
		mean /= float64(len(daily))
		var variance float64
		for _, r := range daily {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(daily) - 1)
		dailyVol := math.Sqrt(variance)
		s.Volatility = dailyVol * math.Sqrt(tradingDaysPerYear)
		if s.Volatility > 0 {
			s.SharpeRatio = s.AnnualizedReturn / s.Volatility
		}
	}
	return s
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// Render prints the summary table to out.
func Render(out io.Writer, s Summary, hasBenchmark bool) error {
	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	table.Append("Trading days", fmt.Sprintf("%d", s.Days))
	table.Append("Final net worth", fmt.Sprintf("%.2f", s.FinalNetWorth))
	table.Append("Total return", pct(s.TotalReturn))
	table.Append("Annualized return", pct(s.AnnualizedReturn))
	table.Append("Max drawdown", pct(s.MaxDrawdown))
	table.Append("Volatility (ann.)", pct(s.Volatility))
	table.Append("Sharpe ratio", fmt.Sprintf("%.2f", s.SharpeRatio))
	if hasBenchmark {
		table.Append("Benchmark return", pct(s.BenchmarkReturn))
	}
	return table.Render()
}
