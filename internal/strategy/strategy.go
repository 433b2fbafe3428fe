// Package strategy ships the built-in strategies. Importing the package
// registers them with the engine's factory registry.
package strategy

import (
	"time"

	"github.com/wdc63/pqtrader/internal/engine"
	"github.com/wdc63/pqtrader/internal/models"
)

func init() {
	engine.Register("buy_and_hold", func() engine.Strategy {
		return &BuyAndHold{Symbol: "510300.SH", Lots: 10}
	})
	engine.Register("sma_cross", func() engine.Strategy {
		return &SMACross{Symbol: "510300.SH", Fast: 5, Slow: 20, Lots: 10}
	})
}

// BuyAndHold buys the target symbol once and sits on it.
type BuyAndHold struct {
	engine.BaseStrategy

	Symbol string
	// Lots is the order size in lot-size multiples.
	Lots int64
}

// HandleBar submits the one entry order if it has not been placed yet.
func (s *BuyAndHold) HandleBar(ctx *engine.Context, _ time.Time) error {
	if _, done := ctx.Get("entered"); done {
		return nil
	}
	if id := ctx.SubmitOrder(s.Symbol, s.Lots*100, models.Market, 0); id != "" {
		ctx.Set("entered", true)
	}
	return nil
}

// SMACross trades a simple moving-average crossover: long when the fast
// average crosses above the slow one, flat when it crosses below. The
// price window rebuilds from live bars, so a resumed run needs Slow bars
// of warm-up before it trades again.
type SMACross struct {
	engine.BaseStrategy

	Symbol string
	Fast   int
	Slow   int
	Lots   int64

	closes []float64
}

func (s *SMACross) sma(n int) float64 {
	var sum float64
	for _, c := range s.closes[len(s.closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// HandleBar records the bar close and trades the crossover.
func (s *SMACross) HandleBar(ctx *engine.Context, _ time.Time) error {
	quote := ctx.CurrentPrice(s.Symbol)
	if quote == nil {
		return nil
	}
	s.closes = append(s.closes, quote.CurrentPrice)
	if len(s.closes) < s.Slow {
		return nil
	}
	if len(s.closes) > s.Slow*3 {
		s.closes = s.closes[len(s.closes)-s.Slow:]
	}

	fast, slow := s.sma(s.Fast), s.sma(s.Slow)
	long := ctx.Positions().Get(s.Symbol, models.Long)

	switch {
	case fast > slow && long == nil:
		ctx.SubmitOrder(s.Symbol, s.Lots*100, models.Market, 0)
	case fast < slow && long != nil && long.AvailableAmount > 0:
		ctx.SubmitOrder(s.Symbol, -long.AvailableAmount, models.Market, 0)
	}
	return nil
}
