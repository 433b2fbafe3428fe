package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc63/pqtrader/internal/models"
)

var at = time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC)

func buyOrder(amount int64) *models.Order {
	return models.NewOrder("600000.SH", amount, models.Market, 0, at, at)
}

func sellOrder(amount int64) *models.Order {
	return models.NewOrder("600000.SH", -amount, models.Market, 0, at, at)
}

func TestProcessTradeOpensLong(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT1)
	realized, err := pm.ProcessTrade(buyOrder(100), 10.0, at, false)
	require.NoError(t, err)
	assert.Zero(t, realized)

	pos := pm.Get("600000.SH", models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(100), pos.TotalAmount)
	assert.Equal(t, int64(0), pos.AvailableAmount)
}

func TestProcessTradeClosesOppositeFirst(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT0)

	_, err := pm.ProcessTrade(sellOrder(200), 10.0, at, true)
	require.NoError(t, err)
	require.NotNil(t, pm.Get("600000.SH", models.Short))

	// A 300-share buy covers the 200 short and opens 100 long.
	realized, err := pm.ProcessTrade(buyOrder(300), 9.0, at, true)
	require.NoError(t, err)
	assert.InDelta(t, 200*(10.0-9.0), realized, 1e-9, "short covered below entry realizes a gain")

	assert.Nil(t, pm.Get("600000.SH", models.Short))
	long := pm.Get("600000.SH", models.Long)
	require.NotNil(t, long)
	assert.Equal(t, int64(100), long.TotalAmount)
}

func TestProcessTradeLongOnlyForbidsShort(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT0)
	_, err := pm.ProcessTrade(sellOrder(100), 10.0, at, false)
	require.Error(t, err)
	assert.Nil(t, pm.Get("600000.SH", models.Short))
}

func TestSettleAllRecordsAndRolls(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT1)
	_, err := pm.ProcessTrade(buyOrder(100), 10.0, at, false)
	require.NoError(t, err)

	rows := pm.SettleAll("2024-03-04", map[string]float64{"600000.SH": 10.5})
	require.Len(t, rows, 1)
	assert.InDelta(t, 10.5, rows[0].ClosePrice, 1e-9)
	assert.InDelta(t, 100*(10.5-10.0), rows[0].DailyPnL, 1e-9)

	pos := pm.Get("600000.SH", models.Long)
	assert.Equal(t, int64(100), pos.AvailableAmount, "T+1 availability rolls at settle")
	assert.Equal(t, int64(0), pos.TodayOpenAmount)

	// Second day marks against the previous settle price.
	rows = pm.SettleAll("2024-03-05", map[string]float64{"600000.SH": 10.2})
	require.Len(t, rows, 1)
	assert.InDelta(t, 100*(10.2-10.5), rows[0].DailyPnL, 1e-9)
}

func TestSnapshotBeforeAndRebuild(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT1)
	_, err := pm.ProcessTrade(buyOrder(100), 10.0, at, false)
	require.NoError(t, err)
	pm.SettleAll("2024-03-04", map[string]float64{"600000.SH": 10.5})
	pm.SettleAll("2024-03-05", map[string]float64{"600000.SH": 10.2})
	pm.SettleAll("2024-03-06", map[string]float64{"600000.SH": 10.8})

	date, rows := pm.SnapshotBefore("2024-03-06")
	assert.Equal(t, "2024-03-05", date)
	require.Len(t, rows, 1)

	pm.TruncateSnapshots("2024-03-06")
	assert.NotContains(t, pm.Snapshots, "2024-03-06")

	pm.RebuildFromSnapshot(rows, at)
	pos := pm.Get("600000.SH", models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(100), pos.TotalAmount)
	assert.Equal(t, int64(100), pos.AvailableAmount, "rebuilt positions are fully available")
	assert.InDelta(t, 10.2, pos.AvgCost, 1e-9, "cost carries at the snapshot close")
}

func TestUpdateFinancialsSplitsLongShort(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT0)
	p := NewPortfolio(100_000)

	_, err := pm.ProcessTrade(buyOrder(100), 10.0, at, true)
	require.NoError(t, err)
	short := models.NewOrder("600519.SH", -200, models.Market, 0, at, at)
	_, err = pm.ProcessTrade(short, 50.0, at, true)
	require.NoError(t, err)

	p.Cash = 100_000
	p.UpdateFinancials(pm)

	assert.InDelta(t, 100*10.0, p.LongMarketValue, 1e-9)
	assert.InDelta(t, 200*50.0, p.ShortMarketValue, 1e-9)
	assert.InDelta(t, 200*50.0*0.2, p.Margin, 1e-9)
	assert.InDelta(t, 100_000+1000-10_000, p.NetWorth, 1e-9)
	assert.InDelta(t, 100_000-p.Margin, p.AvailableCash(), 1e-9)
}

func TestTruncateHistory(t *testing.T) {
	p := NewPortfolio(100)
	pm := NewPositionManager(0.2, models.RuleT1)
	p.RecordHistory("2024-03-04", pm)
	p.RecordHistory("2024-03-05", pm)
	p.RecordHistory("2024-03-06", pm)

	p.TruncateHistory("2024-03-06")

	require.Len(t, p.History, 2)
	assert.Equal(t, "2024-03-05", p.History[1].Date)
}

func TestAdjust(t *testing.T) {
	pm := NewPositionManager(0.2, models.RuleT1)
	pm.Adjust("600000.SH", "Test", models.Long, 500, 9.5, at)

	pos := pm.Get("600000.SH", models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(500), pos.TotalAmount)
	assert.Equal(t, int64(500), pos.AvailableAmount)

	pm.Adjust("600000.SH", "Test", models.Long, 0, 0, at)
	assert.Nil(t, pm.Get("600000.SH", models.Long))
}
