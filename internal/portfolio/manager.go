package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/wdc63/pqtrader/internal/models"
)

// PositionManager owns the unified long/short book: one Position slot per
// (symbol, direction). Slots are removed the moment their total reaches
// zero so a stale slot can never skew the long market value.
type PositionManager struct {
	MarginRate float64            `json:"margin_rate"`
	Rule       models.TradingRule `json:"trading_rule"`

	Positions map[string]*models.Position `json:"positions"`
	// Snapshots holds the per-day settled rows keyed by date, the input to
	// daily_positions.csv and to fork's position rebuild.
	Snapshots map[string][]models.DailySnapshot `json:"snapshots"`
}

// NewPositionManager builds an empty book.
func NewPositionManager(marginRate float64, rule models.TradingRule) *PositionManager {
	return &PositionManager{
		MarginRate: marginRate,
		Rule:       rule,
		Positions:  make(map[string]*models.Position),
		Snapshots:  make(map[string][]models.DailySnapshot),
	}
}

func key(symbol string, direction models.PositionDirection) string {
	return symbol + "::" + string(direction)
}

// Get returns the slot for (symbol, direction), or nil.
func (pm *PositionManager) Get(symbol string, direction models.PositionDirection) *models.Position {
	return pm.Positions[key(symbol, direction)]
}

// All returns every non-empty slot in deterministic (key-sorted) order.
func (pm *PositionManager) All() []*models.Position {
	keys := make([]string, 0, len(pm.Positions))
	for k := range pm.Positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*models.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, pm.Positions[k])
	}
	return out
}

func (pm *PositionManager) ensure(symbol, symbolName string, direction models.PositionDirection, at time.Time) *models.Position {
	k := key(symbol, direction)
	pos := pm.Positions[k]
	if pos == nil {
		pos = models.NewPosition(symbol, symbolName, direction, pm.MarginRate, pm.Rule, at)
		pm.Positions[k] = pos
	}
	return pos
}

func (pm *PositionManager) removeIfEmpty(symbol string, direction models.PositionDirection) {
	k := key(symbol, direction)
	if pos := pm.Positions[k]; pos != nil && pos.TotalAmount == 0 {
		delete(pm.Positions, k)
	}
}

// ProcessTrade applies a filled order to the book: close the opposite
// direction first, then open or add to the same direction with whatever
// remains. Returns the realized PnL of the closed portion.
//
// The matching engine has already verified sufficiency, so a failure here
// is a bug; the book is not mutated when one is detected.
func (pm *PositionManager) ProcessTrade(order *models.Order, price float64, at time.Time, allowShort bool) (float64, error) {
	remaining := order.Amount
	var realized float64

	closeDir, openDir := models.Short, models.Long
	if order.Side == models.Sell {
		closeDir, openDir = models.Long, models.Short
	}

	if opposite := pm.Get(order.Symbol, closeDir); opposite != nil && opposite.TotalAmount > 0 {
		closable := opposite.AvailableAmount
		if pm.Rule == models.RuleT0 {
			closable = opposite.TotalAmount
		}
		closeAmount := remaining
		if closable < closeAmount {
			closeAmount = closable
		}
		if closeAmount > 0 {
			pnl, err := opposite.Close(closeAmount, price, at)
			if err != nil {
				return 0, err
			}
			realized += pnl
			remaining -= closeAmount
			pm.removeIfEmpty(order.Symbol, closeDir)
		}
	}

	if remaining > 0 {
		if openDir == models.Short && !allowShort {
			return realized, fmt.Errorf("order %s: short opening not permitted in long_only mode", order.ID)
		}
		pos := pm.ensure(order.Symbol, order.SymbolName, openDir, at)
		pos.Open(remaining, price, at)
	}
	return realized, nil
}

// SettleAll marks every slot to its closing price, rolls T+1 availability
// and records the day's snapshot rows. closePrices maps symbol to close;
// slots without a close keep their last mark.
func (pm *PositionManager) SettleAll(date string, closePrices map[string]float64) []models.DailySnapshot {
	var rows []models.DailySnapshot
	for _, pos := range pm.All() {
		price, ok := closePrices[pos.Symbol]
		if !ok {
			price = pos.CurrentPrice
		}
		if row := pos.SettleDay(price, date); row != nil {
			rows = append(rows, *row)
		}
		if pm.Rule == models.RuleT1 {
			pos.SettleT1()
		}
	}
	pm.Snapshots[date] = rows
	return rows
}

// SnapshotBefore returns the latest per-day snapshot strictly before date,
// or ("", nil) when none exists.
func (pm *PositionManager) SnapshotBefore(date string) (string, []models.DailySnapshot) {
	var best string
	for d := range pm.Snapshots {
		if d < date && d > best {
			best = d
		}
	}
	if best == "" {
		return "", nil
	}
	return best, pm.Snapshots[best]
}

// TruncateSnapshots drops snapshot days at or after date; used by fork.
func (pm *PositionManager) TruncateSnapshots(date string) {
	for d := range pm.Snapshots {
		if d >= date {
			delete(pm.Snapshots, d)
		}
	}
}

// RebuildFromSnapshot replaces the book with the positions of a settled
// day: fully available, no today-opens, cost carried at the close price.
func (pm *PositionManager) RebuildFromSnapshot(rows []models.DailySnapshot, at time.Time) {
	pm.Positions = make(map[string]*models.Position)
	for _, row := range rows {
		pos := models.NewPosition(row.Symbol, row.SymbolName, row.Direction, pm.MarginRate, pm.Rule, at)
		pos.TotalAmount = row.Amount
		pos.AvailableAmount = row.Amount
		pos.AvgCost = row.ClosePrice
		pos.CurrentPrice = row.ClosePrice
		pos.LastSettlePrice = row.ClosePrice
		pm.Positions[key(row.Symbol, row.Direction)] = pos
	}
}

// Adjust sets a slot to an explicit (amount, cost) target; amount <= 0
// removes the slot. Backs set_initial_state and align_account_state.
func (pm *PositionManager) Adjust(symbol, symbolName string, direction models.PositionDirection, amount int64, avgCost float64, at time.Time) {
	k := key(symbol, direction)
	if amount <= 0 {
		delete(pm.Positions, k)
		return
	}
	pos := pm.Positions[k]
	if pos == nil {
		pos = models.NewPosition(symbol, symbolName, direction, pm.MarginRate, pm.Rule, at)
		pm.Positions[k] = pos
	}
	pos.TotalAmount = amount
	pos.AvgCost = avgCost
	pos.AvailableAmount = amount
	pos.TodayOpenAmount = 0
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = avgCost
	}
	if pos.LastSettlePrice == 0 {
		pos.LastSettlePrice = avgCost
	}
	pos.LastUpdateTime = at
}
