package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/orders"
	"github.com/wdc63/pqtrader/internal/portfolio"
)

const testSymbol = "600000.SH"

var barTime = time.Date(2024, 3, 4, 14, 55, 0, 0, time.UTC)

type fixture struct {
	engine    *Engine
	provider  *market.MockProvider
	orderBook *orders.Manager
	positions *portfolio.PositionManager
	account   *portfolio.Portfolio
	cfg       *config.Config
}

func newFixture(mutate func(*config.Config)) *fixture {
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	provider := market.NewMockProvider().AddSymbol(testSymbol, "Test Co")
	orderBook := orders.NewManager(cfg.Account.OrderLotSize, nil)
	positions := portfolio.NewPositionManager(cfg.Account.ShortMarginRate, models.TradingRule(cfg.Account.TradingRule))
	account := portfolio.NewPortfolio(cfg.Account.InitialCash)
	return &fixture{
		engine:    NewEngine(cfg, provider, orderBook, positions, account, nil),
		provider:  provider,
		orderBook: orderBook,
		positions: positions,
		account:   account,
		cfg:       cfg,
	}
}

func (f *fixture) submit(t *testing.T, amount int64, typ models.OrderType, limit float64) *models.Order {
	t.Helper()
	order, err := f.orderBook.Submit(testSymbol, amount, typ, limit, barTime, barTime)
	require.NoError(t, err)
	return order
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{
		CurrentPrice: 10.0,
		Ask1:         market.Float64(10.02),
		Bid1:         market.Float64(9.98),
	})
	order := f.submit(t, 100, models.Market, 0)

	require.NoError(t, f.engine.MatchOrders(barTime))

	require.Equal(t, models.OrderFilled, order.Status)
	assert.InDelta(t, 10.02, order.FilledPrice, 1e-9)
	// fee = max(5, 1002*0.0002) = 5
	assert.InDelta(t, 5.0, order.Commission, 1e-9)
	assert.InDelta(t, 1_000_000-1002-5, f.account.Cash, 1e-9)

	pos := f.positions.Get(testSymbol, models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, int64(100), pos.TotalAmount)
	assert.Equal(t, int64(0), pos.AvailableAmount, "T+1 blocks same-day sells")
	assert.Equal(t, int64(100), pos.TodayOpenAmount)
}

func TestLimitBuyCrossingAndResting(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	crossing := f.submit(t, 100, models.Limit, 10.5)
	resting := f.submit(t, 100, models.Limit, 9.5)

	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderFilled, crossing.Status)
	assert.InDelta(t, 10.0, crossing.FilledPrice, 1e-9, "crossing limit fills at the touch")
	assert.Equal(t, models.OrderOpen, resting.Status)
	assert.True(t, resting.Resting)

	// Next bar trades through the limit; the resting order fills at its
	// own price, not the better print.
	nextBar := barTime.Add(time.Minute)
	f.provider.SetTickQuote(testSymbol, "2024-03-04 14:56:00", &market.Quote{CurrentPrice: 9.2})
	require.NoError(t, f.engine.MatchOrders(nextBar))

	require.Equal(t, models.OrderFilled, resting.Status)
	assert.InDelta(t, 9.5, resting.FilledPrice, 1e-9)
}

func TestFreshLimitSurvivesToNextBar(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{
		CurrentPrice: 9.88,
		Ask1:         market.Float64(10.05),
	})
	order := f.submit(t, 100, models.Limit, 9.90)

	// The limit sits below the ask: no fill on the submission bar, even
	// though the bar price is already through the limit.
	require.NoError(t, f.engine.MatchOrders(barTime))
	assert.Equal(t, models.OrderOpen, order.Status)
	assert.True(t, order.Resting)

	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))
	require.Equal(t, models.OrderFilled, order.Status)
	assert.InDelta(t, 9.90, order.FilledPrice, 1e-9)
}

func TestDeferredMarketFillsAtBarPrice(t *testing.T) {
	f := newFixture(nil)
	order := f.submit(t, 100, models.Market, 0)

	// No quote on the submission bar: the order defers.
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.True(t, order.Resting)

	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{
		CurrentPrice: 10.0,
		Ask1:         market.Float64(10.05),
		Bid1:         market.Float64(9.95),
	})
	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))

	require.Equal(t, models.OrderFilled, order.Status)
	assert.InDelta(t, 10.0, order.FilledPrice, 1e-9, "deferred markets take the bar price, not the touch")
}

func TestSuspendedSymbol(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	// A resting order booked before the suspension waits it out.
	resting := f.submit(t, 100, models.Limit, 9.5)
	resting.MarkResting()
	// A fresh order on a suspended day is rejected.
	fresh := f.submit(t, 100, models.Market, 0)

	f.provider.Suspend(testSymbol, "2024-03-04")
	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderRejected, fresh.Status)
	assert.Contains(t, fresh.RejectReason, "suspended")
	assert.Equal(t, models.OrderOpen, resting.Status)
}

func TestUnknownSymbolRejected(t *testing.T) {
	f := newFixture(nil)
	order, err := f.orderBook.Submit("000000.XX", 100, models.Market, 0, barTime, barTime)
	require.NoError(t, err)

	require.NoError(t, f.engine.MatchOrders(barTime))
	assert.Equal(t, models.OrderRejected, order.Status)
}

func TestMissingQuoteDefersOrder(t *testing.T) {
	f := newFixture(nil)
	order := f.submit(t, 100, models.Market, 0)

	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderOpen, order.Status)
	assert.True(t, order.Resting)
}

func TestInsufficientCashRejected(t *testing.T) {
	f := newFixture(func(cfg *config.Config) {
		cfg.Account.InitialCash = 500
	})
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})
	order := f.submit(t, 100, models.Market, 0)

	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Contains(t, order.RejectReason, "insufficient buying power")
	assert.InDelta(t, 500, f.account.Cash, 1e-9, "rejected orders leave cash untouched")
}

func TestSellWithoutPositionLongOnly(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})
	order := f.submit(t, -100, models.Market, 0)

	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Contains(t, order.RejectReason, "insufficient position")
}

func TestT1BlocksSameDaySell(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	buy := f.submit(t, 100, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.Equal(t, models.OrderFilled, buy.Status)

	sell := f.submit(t, -100, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))
	assert.Equal(t, models.OrderRejected, sell.Status)

	// After the T+1 roll the same sell succeeds.
	require.NoError(t, f.engine.Settle(barTime.Add(2*time.Hour)))
	nextDay := barTime.AddDate(0, 0, 1)
	f.provider.SetDayQuote(testSymbol, "2024-03-05", &market.Quote{CurrentPrice: 10.0})
	sell2, err := f.orderBook.Submit(testSymbol, -100, models.Market, 0, nextDay, nextDay)
	require.NoError(t, err)
	require.NoError(t, f.engine.MatchOrders(nextDay))
	assert.Equal(t, models.OrderFilled, sell2.Status)
	assert.Nil(t, f.positions.Get(testSymbol, models.Long))
}

func TestShortOpenAndCover(t *testing.T) {
	f := newFixture(func(cfg *config.Config) {
		cfg.Account.TradingMode = "long_short"
		cfg.Account.TradingRule = "T+0"
	})
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	sell := f.submit(t, -200, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.Equal(t, models.OrderFilled, sell.Status)

	short := f.positions.Get(testSymbol, models.Short)
	require.NotNil(t, short)
	assert.Equal(t, int64(200), short.TotalAmount)
	assert.InDelta(t, 200*10.0*0.2, f.account.Margin, 1e-9)
	assert.InDelta(t, -2000, short.MarketValue(), 1e-9)

	buy := f.submit(t, 200, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))
	require.Equal(t, models.OrderFilled, buy.Status)

	assert.Nil(t, f.positions.Get(testSymbol, models.Short))
	assert.InDelta(t, 0, f.account.Margin, 1e-9, "covering the short releases its margin")
}

func TestShortCoverMarginCountsAsBuyingPower(t *testing.T) {
	f := newFixture(func(cfg *config.Config) {
		cfg.Account.TradingMode = "long_short"
		cfg.Account.TradingRule = "T+0"
		cfg.Account.InitialCash = 2_000
	})
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	sell := f.submit(t, -1000, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.Equal(t, models.OrderFilled, sell.Status)
	// cash 11985, margin 2000, available 9985; the 10005 cover only clears
	// because the short's released margin counts toward buying power.
	buy := f.submit(t, 1000, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))
	assert.Equal(t, models.OrderFilled, buy.Status)
}

func TestPriceBandRejects(t *testing.T) {
	f := newFixture(func(cfg *config.Config) {
		cfg.Matching.Slippage.Rate = 0.01
	})
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{
		CurrentPrice: 11.0,
		HighLimit:    market.Float64(11.0),
		LowLimit:     market.Float64(9.0),
	})
	order := f.submit(t, 100, models.Market, 0)

	require.NoError(t, f.engine.MatchOrders(barTime))

	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Contains(t, order.RejectReason, "above high limit")
}

func TestSlippageDirection(t *testing.T) {
	f := newFixture(func(cfg *config.Config) {
		cfg.Matching.Slippage.Rate = 0.001
		cfg.Account.TradingRule = "T+0"
	})
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	buy := f.submit(t, 100, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.Equal(t, models.OrderFilled, buy.Status)
	assert.InDelta(t, 10.01, buy.FilledPrice, 1e-9)

	sell := f.submit(t, -100, models.Market, 0)
	require.NoError(t, f.engine.MatchOrders(barTime.Add(time.Minute)))
	require.Equal(t, models.OrderFilled, sell.Status)
	assert.InDelta(t, 9.99, sell.FilledPrice, 1e-9)
}

func TestSettlePipeline(t *testing.T) {
	f := newFixture(nil)
	f.provider.SetDayQuote(testSymbol, "2024-03-04", &market.Quote{CurrentPrice: 10.0})

	buy := f.submit(t, 100, models.Market, 0)
	stale := f.submit(t, 100, models.Limit, 9.0)
	require.NoError(t, f.engine.MatchOrders(barTime))
	require.Equal(t, models.OrderFilled, buy.Status)

	settleAt := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)
	require.NoError(t, f.engine.Settle(settleAt))

	assert.Equal(t, models.OrderExpired, stale.Status)
	assert.Empty(t, f.orderBook.Today())

	require.Len(t, f.account.History, 1)
	row := f.account.History[0]
	assert.Equal(t, "2024-03-04", row.Date)
	assert.InDelta(t, f.account.Cash+100*10.0, row.NetWorth, 1e-9)

	rows := f.positions.Snapshots["2024-03-04"]
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].Amount)
	assert.InDelta(t, 10.0, rows[0].ClosePrice, 1e-9)

	pos := f.positions.Get(testSymbol, models.Long)
	require.NotNil(t, pos)
	assert.Equal(t, pos.TotalAmount, pos.AvailableAmount, "T+1 rolls at settle")
}
