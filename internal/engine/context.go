// Package engine wires the framework core: the shared Context, the strategy
// lifecycle sandbox, the backtest/simulation scheduler and the run engine
// with its pause/resume/fork surface.
package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/clock"
	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/orders"
	"github.com/wdc63/pqtrader/internal/portfolio"
)

// RunStatus is the run-level lifecycle state; it is also the snapshot
// status tag.
type RunStatus string

const (
	// StatusRunning marks a live run.
	StatusRunning RunStatus = "running"
	// StatusPaused marks a run suspended by the pause command; the only
	// status resume and fork accept.
	StatusPaused RunStatus = "paused"
	// StatusInterrupted marks a run killed by a fatal error.
	StatusInterrupted RunStatus = "interrupted"
	// StatusFinished marks a normally completed run.
	StatusFinished RunStatus = "finished"
)

// Phase is the intraday market phase of the simulation state machine.
type Phase string

const (
	PhaseBeforeTrading Phase = "BEFORE_TRADING"
	PhaseTrading       Phase = "TRADING"
	PhaseAfterTrading  Phase = "AFTER_TRADING"
	PhaseSettlement    Phase = "SETTLEMENT"
	PhaseClosed        Phase = "CLOSED"
)

// PositionTarget is the strategy-facing description of a desired position,
// used by SetInitialState and AlignAccountState.
type PositionTarget struct {
	Symbol    string
	Direction models.PositionDirection
	Amount    int64
	AvgCost   float64
}

// Context is the shared bus strategies receive in every hook. It forwards
// to the core components and carries the run's flags and the user's opaque
// key/value state. All mutations happen on the scheduler goroutine; the
// monitoring server reads copy-out snapshots under the engine's lock.
type Context struct {
	cfg      *config.Config
	logger   *logrus.Logger
	provider market.Provider

	account   *portfolio.Portfolio
	positions *portfolio.PositionManager
	orderBook *orders.Manager

	currentDT time.Time
	phase     Phase
	status    RunStatus

	userData       map[string]any
	customSchedule []string

	// currentHook names the strategy hook currently executing; gates the
	// initialize-only and broker_settle-only context calls.
	currentHook        string
	initialStateSet    bool
	strategyErrorToday bool
	resyncRequested    bool

	// nowFn supplies the wall clock; injectable for simulation tests.
	nowFn func() time.Time
}

func newContext(cfg *config.Config, provider market.Provider, logger *logrus.Logger) *Context {
	return &Context{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		account:   portfolio.NewPortfolio(cfg.Account.InitialCash),
		positions: portfolio.NewPositionManager(cfg.Account.ShortMarginRate, models.TradingRule(cfg.Account.TradingRule)),
		orderBook: orders.NewManager(cfg.Account.OrderLotSize, logger),
		status:    StatusRunning,
		phase:     PhaseClosed,
		userData:  make(map[string]any),
		nowFn:     time.Now,
	}
}

// Now returns the engine's logical current time: the bar time in backtest,
// wall clock in simulation.
func (c *Context) Now() time.Time { return c.currentDT }

// Mode returns "backtest" or "simulation".
func (c *Context) Mode() string { return c.cfg.Engine.Mode }

// Status returns the run-level status.
func (c *Context) Status() RunStatus { return c.status }

// MarketPhase returns the current intraday phase.
func (c *Context) MarketPhase() Phase { return c.phase }

// Portfolio exposes the account's financial state.
func (c *Context) Portfolio() *portfolio.Portfolio { return c.account }

// Positions exposes the position book.
func (c *Context) Positions() *portfolio.PositionManager { return c.positions }

// Orders exposes the order book.
func (c *Context) Orders() *orders.Manager { return c.orderBook }

// SubmitOrder books a new order with a signed amount (positive buys,
// negative sells). Returns the order id, or "" when the submission was
// rejected.
func (c *Context) SubmitOrder(symbol string, amount int64, typ models.OrderType, limitPrice float64) string {
	createdAt := c.currentDT
	if !c.cfg.IsBacktest() {
		createdAt = c.nowFn()
	}
	order, err := c.orderBook.Submit(symbol, amount, typ, limitPrice, createdAt, c.currentDT)
	if err != nil {
		c.logger.WithError(err).Warn("order submission rejected")
		return ""
	}
	return order.ID
}

// CancelOrder withdraws an open order by id.
func (c *Context) CancelOrder(id string) bool {
	return c.orderBook.Cancel(id)
}

// CurrentPrice asks the data provider for the quote at the engine's
// current time; nil means no quote this tick.
func (c *Context) CurrentPrice(symbol string) *market.Quote {
	quote, err := c.provider.CurrentPrice(symbol, c.currentDT)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("current price unavailable")
		return nil
	}
	return quote
}

// Set stores an opaque user value; it travels with snapshots.
func (c *Context) Set(key string, value any) {
	c.userData[key] = value
}

// Get reads an opaque user value.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.userData[key]
	return v, ok
}

// AddSchedule registers an extra "HH:MM:SS" handle_bar point. Only valid
// during initialize; calls from other hooks are ignored with a warning.
func (c *Context) AddSchedule(hhmmss string) {
	if c.currentHook != hookInitialize {
		c.logger.WithField("time", hhmmss).Warn("add_schedule is only honored inside initialize, ignored")
		return
	}
	if _, err := time.Parse(clock.TimeLayout, hhmmss); err != nil {
		c.logger.WithField("time", hhmmss).Warn("add_schedule: malformed time, ignored")
		return
	}
	for _, existing := range c.customSchedule {
		if existing == hhmmss {
			return
		}
	}
	c.customSchedule = append(c.customSchedule, hhmmss)
	c.logger.WithField("time", hhmmss).Info("custom schedule point added")
}

// SetInitialState seeds the account with cash and pre-existing positions.
// Only valid during initialize and at most once; the initial cash is
// rebased to the resulting net worth.
func (c *Context) SetInitialState(cash float64, targets []PositionTarget) {
	if c.currentHook != hookInitialize {
		c.logger.Warn("set_initial_state is only honored inside initialize, ignored")
		return
	}
	if c.initialStateSet {
		c.logger.Warn("set_initial_state called twice, ignored")
		return
	}
	c.account.Cash = cash
	for _, t := range targets {
		c.positions.Adjust(t.Symbol, "", t.Direction, t.Amount, t.AvgCost, c.currentDT)
		if pos := c.positions.Get(t.Symbol, t.Direction); pos != nil {
			if quote := c.CurrentPrice(t.Symbol); quote != nil {
				pos.UpdatePrice(quote.CurrentPrice)
			}
			if info, err := c.provider.SymbolInfo(t.Symbol, c.currentDT.Format(clock.DateLayout)); err == nil && info != nil {
				pos.SymbolName = info.SymbolName
			}
		}
	}
	c.account.UpdateFinancials(c.positions)
	c.account.InitialCash = c.account.NetWorth
	c.initialStateSet = true
	c.logger.WithFields(logrus.Fields{
		"cash":      cash,
		"positions": len(targets),
		"net_worth": c.account.NetWorth,
	}).Info("initial account state set")
}

// AlignAccountState reconciles the simulated account against an external
// broker statement: target positions replace the book wholesale, cash is
// set to the provided value and margin is recomputed. Only valid during
// broker_settle.
func (c *Context) AlignAccountState(cash float64, targets []PositionTarget) {
	if c.currentHook != hookBrokerSettle {
		c.logger.Warn("align_account_state is only honored inside broker_settle, ignored")
		return
	}
	c.positions.Positions = make(map[string]*models.Position)
	for _, t := range targets {
		c.positions.Adjust(t.Symbol, "", t.Direction, t.Amount, t.AvgCost, c.currentDT)
		if pos := c.positions.Get(t.Symbol, t.Direction); pos != nil {
			if quote := c.CurrentPrice(t.Symbol); quote != nil {
				pos.UpdatePrice(quote.CurrentPrice)
			}
		}
	}
	oldCash := c.account.Cash
	c.account.Cash = cash
	c.account.UpdateFinancials(c.positions)
	c.logger.WithFields(logrus.Fields{
		"old_cash":  oldCash,
		"cash":      cash,
		"positions": len(targets),
		"net_worth": c.account.NetWorth,
	}).Info("account state aligned to broker")
}
