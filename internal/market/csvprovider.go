package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// dailyBar is one row of a symbol's history file.
type dailyBar struct {
	open      float64
	high      float64
	low       float64
	close     float64
	suspended bool
}

// CSVProvider serves quotes from per-symbol CSV history files. Each
// <symbol>.csv carries `date,open,high,low,close,volume[,suspended]` rows;
// an optional symbols.csv maps `symbol,name`. The trading calendar is the
// union of all dates seen.
type CSVProvider struct {
	bars  map[string]map[string]dailyBar
	names map[string]string
	days  []string
}

// NewCSVProvider loads every history file under dir.
func NewCSVProvider(dir string) (*CSVProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	p := &CSVProvider{
		bars:  make(map[string]map[string]dailyBar),
		names: make(map[string]string),
	}
	daySet := make(map[string]bool)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		path := filepath.Join(dir, name)
		if name == "symbols.csv" {
			if err := p.loadNames(path); err != nil {
				return nil, err
			}
			continue
		}
		symbol := strings.TrimSuffix(name, ".csv")
		if err := p.loadHistory(symbol, path, daySet); err != nil {
			return nil, err
		}
	}
	if len(p.bars) == 0 {
		return nil, fmt.Errorf("no history files in %s", dir)
	}

	for d := range daySet {
		p.days = append(p.days, d)
	}
	sort.Strings(p.days)
	return p, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the user's data directory
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

func (p *CSVProvider) loadNames(path string) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "symbol") {
			continue
		}
		if len(row) >= 2 {
			p.names[row[0]] = row[1]
		}
	}
	return nil
}

func (p *CSVProvider) loadHistory(symbol, path string, daySet map[string]bool) error {
	rows, err := readCSV(path)
	if err != nil {
		return err
	}
	history := make(map[string]dailyBar, len(rows))
	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "date") {
			continue
		}
		if len(row) < 5 {
			return fmt.Errorf("%s row %d: want at least date,open,high,low,close", path, i+1)
		}
		var b dailyBar
		var parseErr error
		parse := func(s string) float64 {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil && parseErr == nil {
				parseErr = fmt.Errorf("%s row %d: %w", path, i+1, err)
			}
			return v
		}
		b.open = parse(row[1])
		b.high = parse(row[2])
		b.low = parse(row[3])
		b.close = parse(row[4])
		if parseErr != nil {
			return parseErr
		}
		if len(row) >= 7 {
			b.suspended, _ = strconv.ParseBool(row[6])
		}
		history[row[0]] = b
		daySet[row[0]] = true
	}
	p.bars[symbol] = history
	return nil
}

// TradingCalendar returns the dates with any history in [start, end].
func (p *CSVProvider) TradingCalendar(start, end string) ([]string, error) {
	var out []string
	for _, d := range p.days {
		if (start == "" || d >= start) && (end == "" || d <= end) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CurrentPrice serves the daily close for dt's date; nil when the symbol
// has no bar that day.
func (p *CSVProvider) CurrentPrice(symbol string, dt time.Time) (*Quote, error) {
	history, ok := p.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	bar, ok := history[dt.Format("2006-01-02")]
	if !ok || bar.suspended {
		return nil, nil
	}
	return &Quote{CurrentPrice: bar.close}, nil
}

// SymbolInfo reports the static record for the date; suspension comes from
// the bar's flag, the name from symbols.csv when present.
func (p *CSVProvider) SymbolInfo(symbol, date string) (*SymbolInfo, error) {
	history, ok := p.bars[symbol]
	if !ok {
		return nil, nil
	}
	name := p.names[symbol]
	if name == "" {
		name = symbol
	}
	bar, ok := history[date]
	if !ok {
		return &SymbolInfo{SymbolName: name, IsSuspended: true}, nil
	}
	return &SymbolInfo{SymbolName: name, IsSuspended: bar.suspended}, nil
}
