package market

import (
	"sync"
	"time"
)

// MockProvider is a scripted, in-memory Provider used by tests and by the
// bundled example strategies. Quotes can be keyed per day or per exact
// timestamp; the timestamp entry wins.
type MockProvider struct {
	mu sync.RWMutex

	Calendar []string
	// DayQuotes: symbol -> "2006-01-02" -> quote.
	DayQuotes map[string]map[string]*Quote
	// TickQuotes: symbol -> "2006-01-02 15:04:05" -> quote; overrides DayQuotes.
	TickQuotes map[string]map[string]*Quote
	// Suspended: symbol -> set of suspended dates.
	Suspended map[string]map[string]bool
	// Names: symbol -> display name; symbols absent from Names have no
	// symbol info at all and orders for them are rejected.
	Names map[string]string
}

// NewMockProvider returns an empty scripted provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		DayQuotes:  make(map[string]map[string]*Quote),
		TickQuotes: make(map[string]map[string]*Quote),
		Suspended:  make(map[string]map[string]bool),
		Names:      make(map[string]string),
	}
}

// AddSymbol registers a symbol with its display name.
func (m *MockProvider) AddSymbol(symbol, name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Names[symbol] = name
	return m
}

// SetDayQuote scripts the quote for a whole day.
func (m *MockProvider) SetDayQuote(symbol, date string, q *Quote) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DayQuotes[symbol] == nil {
		m.DayQuotes[symbol] = make(map[string]*Quote)
	}
	m.DayQuotes[symbol][date] = q
	return m
}

// SetTickQuote scripts the quote for one exact timestamp.
func (m *MockProvider) SetTickQuote(symbol, ts string, q *Quote) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TickQuotes[symbol] == nil {
		m.TickQuotes[symbol] = make(map[string]*Quote)
	}
	m.TickQuotes[symbol][ts] = q
	return m
}

// Suspend marks symbol suspended on date.
func (m *MockProvider) Suspend(symbol, date string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Suspended[symbol] == nil {
		m.Suspended[symbol] = make(map[string]bool)
	}
	m.Suspended[symbol][date] = true
	return m
}

// TradingCalendar filters the scripted calendar to [start, end].
func (m *MockProvider) TradingCalendar(start, end string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var days []string
	for _, d := range m.Calendar {
		if d >= start && d <= end {
			days = append(days, d)
		}
	}
	return days, nil
}

// CurrentPrice returns the scripted quote, or nil when nothing is scripted
// for the symbol at dt.
func (m *MockProvider) CurrentPrice(symbol string, dt time.Time) (*Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ticks := m.TickQuotes[symbol]; ticks != nil {
		if q, ok := ticks[dt.Format("2006-01-02 15:04:05")]; ok {
			return q, nil
		}
	}
	if days := m.DayQuotes[symbol]; days != nil {
		if q, ok := days[dt.Format("2006-01-02")]; ok {
			return q, nil
		}
	}
	return nil, nil
}

// SymbolInfo returns the scripted record, or nil for unknown symbols.
func (m *MockProvider) SymbolInfo(symbol, date string) (*SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.Names[symbol]
	if !ok {
		return nil, nil
	}
	return &SymbolInfo{
		SymbolName:  name,
		IsSuspended: m.Suspended[symbol][date],
	}, nil
}

// WeekdayCalendar fills the calendar with every weekday in [start, end].
// Useful for multi-week engine tests.
func (m *MockProvider) WeekdayCalendar(start, end string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, err := time.Parse("2006-01-02", start)
	if err != nil {
		return m
	}
	to, err := time.Parse("2006-01-02", end)
	if err != nil {
		return m
	}
	m.Calendar = nil
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			m.Calendar = append(m.Calendar, d.Format("2006-01-02"))
		}
	}
	return m
}
