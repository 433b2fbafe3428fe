package models

import (
	"fmt"
	"time"
)

// PositionDirection separates long and short books for the same symbol.
type PositionDirection string

const (
	// Long positions profit when the price rises.
	Long PositionDirection = "long"
	// Short positions profit when the price falls and reserve margin.
	Short PositionDirection = "short"
)

// Sign returns +1 for long and -1 for short.
func (d PositionDirection) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// TradingRule controls when bought shares become sellable.
type TradingRule string

const (
	// RuleT1 makes today's opens sellable only after the next settlement.
	RuleT1 TradingRule = "T+1"
	// RuleT0 makes opens immediately sellable.
	RuleT0 TradingRule = "T+0"
)

// Position is one (symbol, direction) slot of the unified book. TotalAmount
// is always non-negative; the direction carries the sign.
type Position struct {
	Symbol     string            `json:"symbol"`
	SymbolName string            `json:"symbol_name,omitempty"`
	Direction  PositionDirection `json:"direction"`

	TotalAmount int64   `json:"total_amount"`
	AvgCost     float64 `json:"avg_cost"`

	// RealizedPnL accumulates the closed-portion profit over the slot's
	// lifetime.
	RealizedPnL float64 `json:"realized_pnl"`

	// AvailableAmount and TodayOpenAmount implement T+1: under T+1
	// available+today_open == total at all times between settlements.
	AvailableAmount int64 `json:"available_amount"`
	TodayOpenAmount int64 `json:"today_open_amount"`

	CurrentPrice    float64     `json:"current_price"`
	LastSettlePrice float64     `json:"last_settle_price"`
	MarginRate      float64     `json:"margin_rate"`
	Rule            TradingRule `json:"trading_rule"`

	InitTime       time.Time `json:"init_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// NewPosition creates an empty slot ready for Open calls.
func NewPosition(symbol, symbolName string, direction PositionDirection, marginRate float64, rule TradingRule, at time.Time) *Position {
	return &Position{
		Symbol:         symbol,
		SymbolName:     symbolName,
		Direction:      direction,
		MarginRate:     marginRate,
		Rule:           rule,
		InitTime:       at,
		LastUpdateTime: at,
	}
}

// MarketValue is the signed value of the slot: negative for shorts.
func (p *Position) MarketValue() float64 {
	return p.Direction.Sign() * float64(p.TotalAmount) * p.CurrentPrice
}

// UnrealizedPnL is the open profit against the volume-weighted cost.
func (p *Position) UnrealizedPnL() float64 {
	return p.Direction.Sign() * (p.CurrentPrice - p.AvgCost) * float64(p.TotalAmount)
}

// Margin is the cash reserved against this slot; only shorts reserve margin.
func (p *Position) Margin() float64 {
	if p.Direction != Short {
		return 0
	}
	return float64(p.TotalAmount) * p.CurrentPrice * p.MarginRate
}

// UpdatePrice marks the slot to a new market price.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = price
}

// Open adds amount at price, averaging the cost in.
func (p *Position) Open(amount int64, price float64, at time.Time) {
	totalCost := p.AvgCost*float64(p.TotalAmount) + price*float64(amount)
	p.TotalAmount += amount
	if p.TotalAmount > 0 {
		p.AvgCost = totalCost / float64(p.TotalAmount)
	} else {
		p.AvgCost = 0
	}
	p.TodayOpenAmount += amount
	if p.Rule == RuleT0 {
		p.AvailableAmount += amount
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = price
	}
	if p.LastSettlePrice == 0 {
		p.LastSettlePrice = price
	}
	p.LastUpdateTime = at
}

// Close removes amount at price and returns the realized PnL of the closed
// portion. The caller has verified availability; closing more than the total
// is a programming error.
func (p *Position) Close(amount int64, price float64, at time.Time) (float64, error) {
	if amount > p.TotalAmount {
		return 0, fmt.Errorf("position %s/%s: close %d exceeds total %d", p.Symbol, p.Direction, amount, p.TotalAmount)
	}
	pnl := p.Direction.Sign() * (price - p.AvgCost) * float64(amount)
	p.RealizedPnL += pnl
	p.TotalAmount -= amount
	p.AvailableAmount -= amount
	if p.AvailableAmount < 0 {
		p.AvailableAmount = 0
	}
	if p.TotalAmount == 0 {
		p.TodayOpenAmount = 0
	}
	p.LastUpdateTime = at
	return pnl, nil
}

// SettleT1 rolls today's opens into the available pool for tomorrow.
func (p *Position) SettleT1() {
	p.AvailableAmount = p.TotalAmount
	p.TodayOpenAmount = 0
}

// DailySnapshot is one row of the per-day position record, the input for
// daily_positions.csv and for rebuilding positions on fork.
type DailySnapshot struct {
	Date        string            `json:"date"`
	Symbol      string            `json:"symbol"`
	SymbolName  string            `json:"symbol_name,omitempty"`
	Direction   PositionDirection `json:"direction"`
	Amount      int64             `json:"amount"`
	AvgCost     float64           `json:"avg_cost"`
	ClosePrice  float64           `json:"close_price"`
	MarketValue float64           `json:"market_value"`
	DailyPnL    float64           `json:"daily_pnl"`
}

// SettleDay marks the slot to the closing price and returns the day's
// snapshot row, or nil for an emptied slot.
func (p *Position) SettleDay(closePrice float64, date string) *DailySnapshot {
	prev := p.LastSettlePrice
	if prev == 0 {
		prev = closePrice
	}
	p.LastSettlePrice = closePrice
	p.UpdatePrice(closePrice)
	if p.TotalAmount == 0 {
		return nil
	}
	return &DailySnapshot{
		Date:        date,
		Symbol:      p.Symbol,
		SymbolName:  p.SymbolName,
		Direction:   p.Direction,
		Amount:      p.TotalAmount,
		AvgCost:     p.AvgCost,
		ClosePrice:  closePrice,
		MarketValue: p.MarketValue(),
		DailyPnL:    p.Direction.Sign() * (closePrice - prev) * float64(p.TotalAmount),
	}
}
