package matching

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/clock"
	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/orders"
	"github.com/wdc63/pqtrader/internal/portfolio"
)

// priceEpsilon absorbs float noise when comparing against the limit band.
const priceEpsilon = 1e-6

// Engine matches open orders against provider quotes and runs the daily
// settlement. It is the only component that turns an OPEN order into a
// terminal one (besides user cancels) and the only mutator of cash and
// positions during the trading day.
type Engine struct {
	provider  market.Provider
	orderBook *orders.Manager
	positions *portfolio.PositionManager
	account   *portfolio.Portfolio
	logger    *logrus.Logger

	commission *CommissionCalculator
	slippage   *SlippageModel
	allowShort bool
	marginRate float64
	rule       models.TradingRule

	// symbolInfoCache holds per-day static records; reset at settle.
	symbolInfoCache map[string]*market.SymbolInfo
}

// NewEngine wires the matching engine over the account state.
func NewEngine(
	cfg *config.Config,
	provider market.Provider,
	orderBook *orders.Manager,
	positions *portfolio.PositionManager,
	account *portfolio.Portfolio,
	logger *logrus.Logger,
) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		provider:        provider,
		orderBook:       orderBook,
		positions:       positions,
		account:         account,
		logger:          logger,
		commission:      NewCommissionCalculator(cfg.Matching.Commission),
		slippage:        NewSlippageModel(cfg.Matching.Slippage),
		allowShort:      cfg.Account.TradingMode == "long_short",
		marginRate:      cfg.Account.ShortMarginRate,
		rule:            models.TradingRule(cfg.Account.TradingRule),
		symbolInfoCache: make(map[string]*market.SymbolInfo),
	}
}

// MatchOrders drains the open book at dt. Fresh orders are evaluated
// against the touch; resting limit orders against the bar price at their
// own limit. The book is partitioned before matching: an order demoted to
// resting on this pulse is not re-tried until the next pulse. A nil quote
// defers the order to a later pulse.
func (e *Engine) MatchOrders(dt time.Time) error {
	var fresh, resting []*models.Order
	for _, order := range e.orderBook.OpenOrders() {
		if order.Resting {
			resting = append(resting, order)
		} else {
			fresh = append(fresh, order)
		}
	}
	for _, order := range fresh {
		if err := e.matchFresh(order, dt); err != nil {
			return err
		}
	}
	for _, order := range resting {
		if order.Status != models.OrderOpen {
			continue
		}
		if err := e.matchResting(order, dt); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) symbolInfo(symbol string, dt time.Time) (*market.SymbolInfo, error) {
	if info, ok := e.symbolInfoCache[symbol]; ok {
		return info, nil
	}
	info, err := e.provider.SymbolInfo(symbol, dt.Format(clock.DateLayout))
	if err != nil {
		return nil, err
	}
	if info != nil {
		e.symbolInfoCache[symbol] = info
	}
	return info, nil
}

// matchFresh evaluates an order on its submission bar.
func (e *Engine) matchFresh(order *models.Order, dt time.Time) error {
	info, err := e.symbolInfo(order.Symbol, dt)
	if err != nil {
		// Transient provider failure: defer to a later pulse.
		e.logger.WithError(err).WithField("order", order.ID).Warn("symbol info unavailable, order deferred")
		order.MarkResting()
		return nil
	}
	if info == nil {
		e.reject(order, fmt.Sprintf("no symbol info for %s on %s", order.Symbol, dt.Format(clock.DateLayout)))
		return nil
	}
	order.SymbolName = info.SymbolName
	if info.IsSuspended {
		e.reject(order, fmt.Sprintf("symbol %s is suspended", order.Symbol))
		return nil
	}

	quote, err := e.provider.CurrentPrice(order.Symbol, dt)
	if err != nil {
		e.logger.WithError(err).WithField("order", order.ID).Warn("quote unavailable, order deferred")
		order.MarkResting()
		return nil
	}
	if quote == nil {
		order.MarkResting()
		return nil
	}

	matchPrice, ok := e.freshMatchPrice(order, quote)
	if !ok {
		order.MarkResting()
		return nil
	}
	return e.execute(order, matchPrice, quote, dt)
}

// freshMatchPrice selects the fill reference for a fresh order: the touch
// for markets, the touch when a limit crosses it.
func (e *Engine) freshMatchPrice(order *models.Order, quote *market.Quote) (float64, bool) {
	touch := quote.CurrentPrice
	if order.Side == models.Buy && quote.Ask1 != nil {
		touch = *quote.Ask1
	}
	if order.Side == models.Sell && quote.Bid1 != nil {
		touch = *quote.Bid1
	}
	if order.Type == models.Market {
		return touch, true
	}
	if order.Side == models.Buy && order.LimitPrice >= touch {
		return touch, true
	}
	if order.Side == models.Sell && order.LimitPrice <= touch {
		return touch, true
	}
	return 0, false
}

// matchResting evaluates an order that survived its submission bar. Limit
// orders fill at their own limit, not the touch: cross-bar prints must not
// leak a better price backwards. Deferred market orders take the bar
// price; the submission-time touch is gone by now.
func (e *Engine) matchResting(order *models.Order, dt time.Time) error {
	info, err := e.symbolInfo(order.Symbol, dt)
	if err != nil || info == nil || info.IsSuspended {
		// Resting orders wait out suspensions and data gaps; settle expires
		// whatever never trades.
		return nil
	}
	quote, qErr := e.provider.CurrentPrice(order.Symbol, dt)
	if qErr != nil || quote == nil {
		return nil
	}

	var price float64
	switch {
	case order.Type == models.Market:
		price = quote.CurrentPrice
	case order.Side == models.Buy && quote.CurrentPrice <= order.LimitPrice:
		price = order.LimitPrice
	case order.Side == models.Sell && quote.CurrentPrice >= order.LimitPrice:
		price = order.LimitPrice
	default:
		return nil
	}
	return e.execute(order, price, quote, dt)
}

// execute runs the fill pipeline: slippage, limit-band check, commission,
// sufficiency, then the atomic book mutation. Any check failing leaves the
// account untouched.
func (e *Engine) execute(order *models.Order, matchPrice float64, quote *market.Quote, dt time.Time) error {
	fillPrice := e.slippage.Apply(order.Side, matchPrice)

	if quote.HighLimit != nil && fillPrice > *quote.HighLimit+priceEpsilon {
		e.reject(order, fmt.Sprintf("fill price %.4f above high limit %.4f", fillPrice, *quote.HighLimit))
		return nil
	}
	if quote.LowLimit != nil && fillPrice < *quote.LowLimit-priceEpsilon {
		e.reject(order, fmt.Sprintf("fill price %.4f below low limit %.4f", fillPrice, *quote.LowLimit))
		return nil
	}

	fee := e.commission.Calculate(order, fillPrice)

	if ok, reason := e.checkSufficiency(order, fillPrice, fee); !ok {
		e.reject(order, reason)
		return nil
	}

	if err := order.Fill(fillPrice, fee, dt); err != nil {
		return err
	}
	realized, err := e.positions.ProcessTrade(order, fillPrice, dt, e.allowShort)
	if err != nil {
		return fmt.Errorf("applying fill of order %s: %w", order.ID, err)
	}

	gross := fillPrice * float64(order.Amount)
	if order.Side == models.Buy {
		e.account.Cash -= gross + fee
	} else {
		e.account.Cash += gross - fee
	}
	e.account.UpdateFinancials(e.positions)

	e.logger.WithFields(logrus.Fields{
		"order":    order.ID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"amount":   order.Amount,
		"price":    fillPrice,
		"fee":      fee,
		"realized": realized,
	}).Info("order filled")
	return nil
}

// checkSufficiency verifies cash for buys and position/margin for sells
// before any state mutation.
func (e *Engine) checkSufficiency(order *models.Order, price, fee float64) (bool, string) {
	if order.Side == models.Buy {
		needed := price*float64(order.Amount) + fee

		// A buy that covers an existing short releases that short's margin;
		// the released amount counts toward buying power.
		var released float64
		if short := e.positions.Get(order.Symbol, models.Short); short != nil && short.TotalAmount > 0 {
			closable := short.AvailableAmount
			if e.rule == models.RuleT0 {
				closable = short.TotalAmount
			}
			cover := order.Amount
			if closable < cover {
				cover = closable
			}
			if cover > 0 {
				released = short.Margin() * float64(cover) / float64(short.TotalAmount)
			}
		}

		power := e.account.AvailableCash() + released
		if power < needed {
			return false, fmt.Sprintf("insufficient buying power: need %.2f, have %.2f", needed, power)
		}
		return true, ""
	}

	// SELL: close available long first, the shortfall opens a short.
	var availLong int64
	if long := e.positions.Get(order.Symbol, models.Long); long != nil {
		availLong = long.AvailableAmount
		if e.rule == models.RuleT0 {
			availLong = long.TotalAmount
		}
	}
	if order.Amount <= availLong {
		return true, ""
	}
	shortfall := order.Amount - availLong
	if !e.allowShort {
		return false, fmt.Sprintf("insufficient position: want to sell %d, available %d", order.Amount, availLong)
	}
	marginNeeded := price * float64(shortfall) * e.marginRate
	if e.account.AvailableCash() < marginNeeded {
		return false, fmt.Sprintf("insufficient margin for short: need %.2f, available %.2f", marginNeeded, e.account.AvailableCash())
	}
	return true, ""
}

func (e *Engine) reject(order *models.Order, reason string) {
	order.Reject(reason)
	e.logger.WithFields(logrus.Fields{
		"order":  order.ID,
		"symbol": order.Symbol,
		"side":   order.Side,
		"amount": order.Amount,
	}).Warnf("order rejected: %s", reason)
}

// Settle runs the end-of-day pipeline at dt: mark every position to the
// provider's close, refresh the account, record the equity row and the
// per-position snapshot, roll T+1 availability, then reset the intraday
// order book (expiring whatever never filled).
func (e *Engine) Settle(dt time.Time) error {
	date := dt.Format(clock.DateLayout)

	closes := make(map[string]float64)
	for _, pos := range e.positions.All() {
		quote, err := e.provider.CurrentPrice(pos.Symbol, dt)
		if err != nil || quote == nil {
			e.logger.WithField("symbol", pos.Symbol).Warnf("no closing price for %s, carrying last mark", date)
			continue
		}
		closes[pos.Symbol] = quote.CurrentPrice
	}

	e.positions.SettleAll(date, closes)
	e.account.RecordHistory(date, e.positions)
	e.orderBook.EndOfDay()
	e.symbolInfoCache = make(map[string]*market.SymbolInfo)

	e.logger.WithFields(logrus.Fields{
		"date":      date,
		"net_worth": e.account.NetWorth,
	}).Info("daily settlement complete")
	return nil
}
