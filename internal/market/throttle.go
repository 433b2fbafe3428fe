package market

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledProvider caps the CurrentPrice call rate against a live data
// source. The backtest loop never needs it; the simulation tick plus the
// intraday statistics sampler can otherwise burst past provider quotas.
type ThrottledProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewThrottledProvider allows ratePerSecond CurrentPrice calls with a burst
// of the same size. Calendar and symbol-info lookups are not throttled; they
// are cached upstream and rare.
func NewThrottledProvider(provider Provider, ratePerSecond float64) *ThrottledProvider {
	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &ThrottledProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// TradingCalendar delegates to the wrapped provider.
func (t *ThrottledProvider) TradingCalendar(start, end string) ([]string, error) {
	return t.provider.TradingCalendar(start, end)
}

// CurrentPrice blocks until the limiter grants a slot, then delegates.
func (t *ThrottledProvider) CurrentPrice(symbol string, dt time.Time) (*Quote, error) {
	if err := t.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	return t.provider.CurrentPrice(symbol, dt)
}

// SymbolInfo delegates to the wrapped provider.
func (t *ThrottledProvider) SymbolInfo(symbol, date string) (*SymbolInfo, error) {
	return t.provider.SymbolInfo(symbol, date)
}
