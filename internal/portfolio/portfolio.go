// Package portfolio implements the account's financial state: cash, margin
// and market-value accounting plus the per-(symbol, direction) position book.
package portfolio

// DailyEquity is one row of the account's daily history, the source of
// equity.csv.
type DailyEquity struct {
	Date             string  `json:"date"`
	NetWorth         float64 `json:"net_worth"`
	TotalAssets      float64 `json:"total_assets"`
	Cash             float64 `json:"cash"`
	Margin           float64 `json:"margin"`
	LongMarketValue  float64 `json:"long_market_value"`
	ShortMarketValue float64 `json:"short_market_value"`
	Returns          float64 `json:"returns"`
}

// Portfolio tracks the account's cash and derived financial metrics. All
// derived fields are refreshed from the position book via UpdateFinancials;
// mutors of cash or positions must call it before the values are read.
type Portfolio struct {
	InitialCash float64 `json:"initial_cash"`
	Cash        float64 `json:"cash"`
	Margin      float64 `json:"margin"`

	NetWorth         float64 `json:"net_worth"`
	TotalAssets      float64 `json:"total_assets"`
	LongMarketValue  float64 `json:"long_market_value"`
	ShortMarketValue float64 `json:"short_market_value"` // liability, recorded positive

	History []DailyEquity `json:"history"`
}

// NewPortfolio funds an account with cash.
func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		InitialCash: initialCash,
		Cash:        initialCash,
		NetWorth:    initialCash,
		TotalAssets: initialCash,
	}
}

// AvailableCash is the cash not reserved as short margin.
func (p *Portfolio) AvailableCash() float64 {
	return p.Cash - p.Margin
}

// Returns is the cumulative return on net worth.
func (p *Portfolio) Returns() float64 {
	if p.InitialCash == 0 {
		return 0
	}
	return (p.NetWorth - p.InitialCash) / p.InitialCash
}

// UpdateFinancials recomputes margin, market values and net worth from the
// position book.
func (p *Portfolio) UpdateFinancials(pm *PositionManager) {
	var margin, longMV, shortMV float64
	for _, pos := range pm.All() {
		margin += pos.Margin()
		mv := pos.MarketValue()
		if mv >= 0 {
			longMV += mv
		} else {
			shortMV += -mv
		}
	}
	p.Margin = margin
	p.LongMarketValue = longMV
	p.ShortMarketValue = shortMV
	p.TotalAssets = p.Cash + longMV
	p.NetWorth = p.Cash + longMV - shortMV
}

// RecordHistory refreshes financials and appends the daily equity row.
func (p *Portfolio) RecordHistory(date string, pm *PositionManager) {
	p.UpdateFinancials(pm)
	p.History = append(p.History, DailyEquity{
		Date:             date,
		NetWorth:         p.NetWorth,
		TotalAssets:      p.TotalAssets,
		Cash:             p.Cash,
		Margin:           p.Margin,
		LongMarketValue:  p.LongMarketValue,
		ShortMarketValue: p.ShortMarketValue,
		Returns:          p.Returns(),
	})
}

// TruncateHistory drops history rows at or after date; used by fork.
func (p *Portfolio) TruncateHistory(date string) {
	kept := p.History[:0]
	for _, h := range p.History {
		if h.Date < date {
			kept = append(kept, h)
		}
	}
	p.History = kept
}
