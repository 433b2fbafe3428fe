package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/models"
)

func newHookContext(hook string) *Context {
	provider := market.NewMockProvider().AddSymbol(testSymbol, "Test Co")
	provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})
	ctx := newContext(config.Default(), provider, quietLogger())
	ctx.currentDT = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ctx.currentHook = hook
	return ctx
}

func TestAddScheduleOnlyDuringInitialize(t *testing.T) {
	ctx := newHookContext(hookHandleBar)
	ctx.AddSchedule("10:00:00")
	assert.Empty(t, ctx.customSchedule)

	ctx = newHookContext(hookInitialize)
	ctx.AddSchedule("10:00:00")
	ctx.AddSchedule("10:00:00")
	ctx.AddSchedule("not-a-time")
	assert.Equal(t, []string{"10:00:00"}, ctx.customSchedule)
}

func TestSetInitialStateGating(t *testing.T) {
	targets := []PositionTarget{{Symbol: testSymbol, Direction: models.Long, Amount: 500, AvgCost: 9.0}}

	ctx := newHookContext(hookBeforeTrading)
	ctx.SetInitialState(50_000, targets)
	assert.InDelta(t, 1_000_000, ctx.account.Cash, 0, "ignored outside initialize")

	ctx = newHookContext(hookInitialize)
	ctx.SetInitialState(50_000, targets)

	assert.InDelta(t, 50_000, ctx.account.Cash, 0)
	pos := ctx.positions.Get(testSymbol, models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(500), pos.TotalAmount)
	assert.InDelta(t, 10.0, pos.CurrentPrice, 1e-9, "marked to the scripted quote")
	assert.Equal(t, "Test Co", pos.SymbolName)
	assert.InDelta(t, 50_000+500*10.0, ctx.account.InitialCash, 1e-9, "initial cash rebases to net worth")

	// Second call is ignored.
	ctx.SetInitialState(1, nil)
	assert.InDelta(t, 50_000, ctx.account.Cash, 0)
	require.NotNil(t, ctx.positions.Get(testSymbol, models.Long))
}

func TestAlignAccountStateGating(t *testing.T) {
	targets := []PositionTarget{{Symbol: testSymbol, Direction: models.Long, Amount: 200, AvgCost: 9.5}}

	ctx := newHookContext(hookHandleBar)
	ctx.AlignAccountState(70_000, targets)
	assert.Nil(t, ctx.positions.Get(testSymbol, models.Long), "ignored outside broker_settle")

	ctx = newHookContext(hookBrokerSettle)
	ctx.positions.Adjust("999999.SH", "", models.Long, 100, 5, ctx.currentDT)
	ctx.AlignAccountState(70_000, targets)

	assert.Nil(t, ctx.positions.Get("999999.SH", models.Long), "replace semantics drop unlisted slots")
	pos := ctx.positions.Get(testSymbol, models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(200), pos.TotalAmount)
	assert.InDelta(t, 70_000, ctx.account.Cash, 0)
}

func TestSubmitOrderRejectionReturnsEmptyID(t *testing.T) {
	ctx := newHookContext(hookHandleBar)
	assert.Empty(t, ctx.SubmitOrder(testSymbol, 50, models.Market, 0), "odd lot")
	assert.NotEmpty(t, ctx.SubmitOrder(testSymbol, 100, models.Market, 0))
}

func TestUserData(t *testing.T) {
	ctx := newHookContext(hookHandleBar)
	_, ok := ctx.Get("missing")
	assert.False(t, ok)

	ctx.Set("counter", 3)
	v, ok := ctx.Get("counter")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
