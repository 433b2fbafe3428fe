// Package market defines the data-provider contract the engine consumes and
// decorators that harden a provider for simulation use.
package market

import "time"

// Quote is one price snapshot for a symbol at a point in time. CurrentPrice
// is always set; the touch and the limit band are optional and reported via
// the pointer fields.
type Quote struct {
	CurrentPrice float64
	Ask1         *float64
	Bid1         *float64
	HighLimit    *float64
	LowLimit     *float64
}

// SymbolInfo is the per-day static record for a symbol.
type SymbolInfo struct {
	SymbolName  string
	IsSuspended bool
}

// Provider supplies the engine with calendar, prices and symbol data. All
// three operations must be deterministic per input in backtest mode.
//
// CurrentPrice returning (nil, nil) means "no quote this tick": affected
// orders are deferred, not rejected. SymbolInfo returning (nil, nil) for the
// day means orders for the symbol are rejected.
type Provider interface {
	// TradingCalendar returns the ordered "YYYY-MM-DD" trading days in
	// [start, end]; the list may be empty.
	TradingCalendar(start, end string) ([]string, error)
	// CurrentPrice returns the quote for symbol at dt, or nil when the
	// provider has no quote for this tick.
	CurrentPrice(symbol string, dt time.Time) (*Quote, error)
	// SymbolInfo returns the static record for symbol on date, or nil when
	// the symbol is unknown on that day.
	SymbolInfo(symbol, date string) (*SymbolInfo, error)
}

// Float64 is a convenience for building optional quote fields.
func Float64(v float64) *float64 { return &v }
