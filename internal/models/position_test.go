package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPosition(dir PositionDirection, rule TradingRule) *Position {
	return NewPosition("600000.SH", "PuFa Bank", dir, 0.2, rule, time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC))
}

func TestPosition_OpenAveragesCost(t *testing.T) {
	now := time.Now()
	p := newTestPosition(Long, RuleT1)

	p.Open(100, 10.0, now)
	p.Open(100, 12.0, now)

	assert.Equal(t, int64(200), p.TotalAmount)
	assert.InDelta(t, 11.0, p.AvgCost, 1e-9)
	assert.Equal(t, int64(200), p.TodayOpenAmount)
	assert.Equal(t, int64(0), p.AvailableAmount, "T+1: nothing sellable on open day")
}

func TestPosition_T0OpensAreImmediatelyAvailable(t *testing.T) {
	p := newTestPosition(Long, RuleT0)
	p.Open(100, 10.0, time.Now())
	assert.Equal(t, int64(100), p.AvailableAmount)
}

func TestPosition_AvailablePlusTodayOpenEqualsTotal(t *testing.T) {
	now := time.Now()
	p := newTestPosition(Long, RuleT1)

	p.Open(300, 10.0, now)
	assert.Equal(t, p.TotalAmount, p.AvailableAmount+p.TodayOpenAmount)

	p.SettleT1()
	assert.Equal(t, int64(300), p.AvailableAmount)
	assert.Equal(t, int64(0), p.TodayOpenAmount)
	assert.Equal(t, p.TotalAmount, p.AvailableAmount+p.TodayOpenAmount)

	p.Open(100, 11.0, now)
	assert.Equal(t, p.TotalAmount, p.AvailableAmount+p.TodayOpenAmount)

	_, err := p.Close(200, 12.0, now)
	require.NoError(t, err)
	assert.Equal(t, p.TotalAmount, p.AvailableAmount+p.TodayOpenAmount)
}

func TestPosition_CloseRealizesPnLByDirection(t *testing.T) {
	now := time.Now()

	long := newTestPosition(Long, RuleT0)
	long.Open(100, 10.0, now)
	pnl, err := long.Close(100, 11.0, now)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	short := newTestPosition(Short, RuleT0)
	short.Open(100, 10.0, now)
	pnl, err = short.Close(100, 9.0, now)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pnl, 1e-9)

	_, err = short.Close(1, 9.0, now)
	require.Error(t, err, "closing an empty slot is a programming error")
}

func TestPosition_RealizedPnLAccumulates(t *testing.T) {
	now := time.Now()
	p := newTestPosition(Long, RuleT0)
	p.Open(200, 10.0, now)

	_, err := p.Close(100, 11.0, now)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, p.RealizedPnL, 1e-9)

	_, err = p.Close(100, 9.5, now)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, p.RealizedPnL, 1e-9, "losses net against earlier gains")
}

func TestPosition_MarketValueAndMargin(t *testing.T) {
	now := time.Now()

	long := newTestPosition(Long, RuleT0)
	long.Open(100, 10.0, now)
	long.UpdatePrice(12.0)
	assert.InDelta(t, 1200.0, long.MarketValue(), 1e-9)
	assert.InDelta(t, 200.0, long.UnrealizedPnL(), 1e-9)
	assert.Zero(t, long.Margin())

	short := newTestPosition(Short, RuleT0)
	short.Open(100, 10.0, now)
	short.UpdatePrice(9.0)
	assert.InDelta(t, -900.0, short.MarketValue(), 1e-9)
	assert.InDelta(t, 100.0, short.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 180.0, short.Margin(), 1e-9)
}

func TestPosition_SettleDay(t *testing.T) {
	now := time.Now()
	p := newTestPosition(Long, RuleT1)
	p.Open(100, 10.0, now)

	snap := p.SettleDay(10.5, "2024-03-04")
	require.NotNil(t, snap)
	assert.Equal(t, "2024-03-04", snap.Date)
	assert.Equal(t, int64(100), snap.Amount)
	assert.InDelta(t, 1050.0, snap.MarketValue, 1e-9)
	assert.InDelta(t, 50.0, snap.DailyPnL, 1e-9, "first day baselines at the open price")

	snap = p.SettleDay(10.2, "2024-03-05")
	require.NotNil(t, snap)
	assert.InDelta(t, -30.0, snap.DailyPnL, 1e-9)

	_, err := p.Close(100, 10.2, now)
	require.NoError(t, err)
	assert.Nil(t, p.SettleDay(10.2, "2024-03-06"), "empty slots produce no snapshot row")
}
