package market

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider with a circuit breaker. Simulation mode
// talks to a live data source; a provider that starts failing should not be
// hammered once per tick.
type BreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// BreakerSettings configures the provider circuit breaker.
type BreakerSettings struct {
	MaxRequests  uint32        // max requests allowed when half-open
	Interval     time.Duration // counter reset interval
	Timeout      time.Duration // open-state duration
	MinRequests  uint32        // min requests before the breaker may trip
	FailureRatio float64       // failure ratio threshold
}

// DefaultBreakerSettings are tuned for a 1 Hz simulation tick.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewBreakerProvider wraps provider with DefaultBreakerSettings.
func NewBreakerProvider(provider Provider, logger *logrus.Logger) *BreakerProvider {
	return NewBreakerProviderWithSettings(provider, DefaultBreakerSettings, logger)
}

// NewBreakerProviderWithSettings wraps provider with custom settings.
func NewBreakerProviderWithSettings(provider Provider, settings BreakerSettings, logger *logrus.Logger) *BreakerProvider {
	gbSettings := gobreaker.Settings{
		Name:        "DataProviderBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
					Warn("data provider circuit breaker state changed")
			}
		},
	}
	return &BreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("provider breaker: type assertion failed")
	}
	return v, nil
}

// TradingCalendar wraps the underlying provider call with the breaker.
func (b *BreakerProvider) TradingCalendar(start, end string) ([]string, error) {
	return execBreaker(b.breaker, func() ([]string, error) { return b.provider.TradingCalendar(start, end) })
}

// CurrentPrice wraps the underlying provider call with the breaker.
func (b *BreakerProvider) CurrentPrice(symbol string, dt time.Time) (*Quote, error) {
	return execBreaker(b.breaker, func() (*Quote, error) { return b.provider.CurrentPrice(symbol, dt) })
}

// SymbolInfo wraps the underlying provider call with the breaker.
func (b *BreakerProvider) SymbolInfo(symbol, date string) (*SymbolInfo, error) {
	return execBreaker(b.breaker, func() (*SymbolInfo, error) { return b.provider.SymbolInfo(symbol, date) })
}

// State exposes the breaker state for monitoring.
func (b *BreakerProvider) State() gobreaker.State {
	return b.breaker.State()
}
