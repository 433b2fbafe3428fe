package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/portfolio"
)

// Artifact file names inside a run workspace.
const (
	EquityCSV    = "equity.csv"
	OrdersCSV    = "orders.csv"
	PositionsCSV = "daily_positions.csv"
)

// ffloat renders floats without exponent notation and without trailing
// zeros, so repeated runs produce byte-identical files.
func ffloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func ftime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// writeCSV writes rows atomically via a temp file and rename.
func writeCSV(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing artifact: %w", err)
	}
	return nil
}

// WriteEquityCSV exports the daily equity curve.
func WriteEquityCSV(path string, history []portfolio.DailyEquity) error {
	header := []string{"date", "net_worth", "cash", "long_market_value", "short_market_value", "returns"}
	rows := make([][]string, 0, len(history))
	for _, h := range history {
		rows = append(rows, []string{
			h.Date,
			ffloat(h.NetWorth),
			ffloat(h.Cash),
			ffloat(h.LongMarketValue),
			ffloat(h.ShortMarketValue),
			ffloat(h.Returns),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteOrdersCSV exports one row per order ever submitted, in submission
// order.
func WriteOrdersCSV(path string, orders []*models.Order) error {
	header := []string{
		"id", "symbol", "side", "type", "limit_price", "amount",
		"status", "created_time", "filled_time", "filled_price", "commission",
	}
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		limit := ""
		if o.Type == models.Limit {
			limit = ffloat(o.LimitPrice)
		}
		filledPrice, commission := "", ""
		if o.Status == models.OrderFilled {
			filledPrice = ffloat(o.FilledPrice)
			commission = ffloat(o.Commission)
		}
		rows = append(rows, []string{
			o.ID,
			o.Symbol,
			string(o.Side),
			string(o.Type),
			limit,
			strconv.FormatInt(o.Amount, 10),
			string(o.Status),
			ftime(o.CreatedTime),
			ftime(o.FilledTime),
			filledPrice,
			commission,
		})
	}
	return writeCSV(path, header, rows)
}

// WritePositionsCSV exports the per-day settled position rows, ordered by
// date and within a day by the settle ordering.
func WritePositionsCSV(path string, snapshots map[string][]models.DailySnapshot) error {
	header := []string{"date", "symbol", "direction", "amount", "avg_cost", "close_price", "market_value", "daily_pnl"}

	dates := make([]string, 0, len(snapshots))
	for d := range snapshots {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var rows [][]string
	for _, d := range dates {
		for _, row := range snapshots[d] {
			rows = append(rows, []string{
				row.Date,
				row.Symbol,
				string(row.Direction),
				strconv.FormatInt(row.Amount, 10),
				ffloat(row.AvgCost),
				ffloat(row.ClosePrice),
				ffloat(row.MarketValue),
				ffloat(row.DailyPnL),
			})
		}
	}
	return writeCSV(path, header, rows)
}
