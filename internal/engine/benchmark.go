package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/market"
)

// BenchmarkPoint is one daily close of the benchmark symbol.
type BenchmarkPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// BenchmarkTracker records the benchmark symbol's daily closes alongside
// the equity curve, for the end-of-run report. An empty symbol disables it.
type BenchmarkTracker struct {
	Symbol  string           `json:"symbol"`
	History []BenchmarkPoint `json:"history"`
}

// NewBenchmarkTracker tracks the given symbol; "" yields an inert tracker.
func NewBenchmarkTracker(symbol string) *BenchmarkTracker {
	return &BenchmarkTracker{Symbol: symbol}
}

// Record appends the benchmark close for the settling day.
func (b *BenchmarkTracker) Record(provider market.Provider, dt time.Time, date string, logger *logrus.Logger) {
	if b.Symbol == "" {
		return
	}
	quote, err := provider.CurrentPrice(b.Symbol, dt)
	if err != nil || quote == nil {
		logger.WithField("symbol", b.Symbol).Warnf("no benchmark close for %s", date)
		return
	}
	b.History = append(b.History, BenchmarkPoint{Date: date, Close: quote.CurrentPrice})
}

// Truncate drops points at or after date; used by fork.
func (b *BenchmarkTracker) Truncate(date string) {
	kept := b.History[:0]
	for _, p := range b.History {
		if p.Date < date {
			kept = append(kept, p)
		}
	}
	b.History = kept
}

// Returns is the benchmark's cumulative return over the recorded window.
func (b *BenchmarkTracker) Returns() float64 {
	if len(b.History) < 2 || b.History[0].Close == 0 {
		return 0
	}
	first := b.History[0].Close
	last := b.History[len(b.History)-1].Close
	return (last - first) / first
}
