package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/clock"
	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/matching"
	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/portfolio"
	"github.com/wdc63/pqtrader/internal/storage"
)

// command is a control message from the CLI or the dashboard.
type command int

const (
	// CmdPause saves a pause snapshot and suspends the run at the next safe
	// point until resume or stop.
	CmdPause command = iota
	// CmdResume lifts a pause.
	CmdResume
	// CmdStop ends the run: finalize when running, plain exit when paused.
	CmdStop
)

// Engine drives a single run: it owns the context, the matching engine and
// the scheduler, and exposes the pause/resume/fork surface. All trading
// state mutates on the Run goroutine; the mutex only guards the copy-out
// view served to the dashboard.
type Engine struct {
	cfg      *config.Config
	logger   *logrus.Logger
	provider market.Provider

	ctx      *Context
	calendar *clock.Calendar
	matcher  *matching.Engine
	sandbox  *Sandbox

	strategy       Strategy
	strategyName   string
	strategySource string
	benchmark      *BenchmarkTracker

	workspace string
	commands  chan command

	// scheduler progress, persisted in snapshots
	currentDate string
	lastBarTime time.Time
	dayIndex    int
	flags       dailyFlags

	// resumePoint makes the first day of a resumed backtest skip events at
	// or before the pause time.
	resumePoint time.Time
	// initialized marks that the strategy's initialize hook already ran,
	// in this process or in the run the snapshot came from.
	initialized bool

	mu sync.RWMutex
}

// New builds an engine for a fresh run. The strategy is instantiated from
// the registry by cfg.Engine.StrategyName.
func New(cfg *config.Config, provider market.Provider, logger *logrus.Logger, workspace string) (*Engine, error) {
	strat, err := NewStrategy(cfg.Engine.StrategyName)
	if err != nil {
		return nil, err
	}
	e := newEngine(cfg, provider, logger, workspace)
	e.strategy = strat
	e.strategyName = cfg.Engine.StrategyName
	return e, nil
}

func newEngine(cfg *config.Config, provider market.Provider, logger *logrus.Logger, workspace string) *Engine {
	ctx := newContext(cfg, provider, logger)
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		ctx:       ctx,
		calendar:  clock.NewCalendar(provider, cfg, logger),
		matcher:   matching.NewEngine(cfg, provider, ctx.orderBook, ctx.positions, ctx.account, logger),
		sandbox:   NewSandbox(logger, cfg.BlockThreshold(), !cfg.IsBacktest(), cfg.Engine.StrictInit),
		benchmark: NewBenchmarkTracker(cfg.Benchmark.Symbol),
		workspace: workspace,
		commands:  make(chan command, 8),
	}
}

// Resume rebuilds an engine from a pause snapshot and continues the run
// where it left off. Only paused snapshots are accepted; the strategy is
// re-bound by name through the registry.
func Resume(cfg *config.Config, provider market.Provider, logger *logrus.Logger, workspace, snapshotPath string) (*Engine, error) {
	env, err := storage.Load(snapshotPath)
	if err != nil {
		return nil, err
	}
	if env.Status != string(StatusPaused) {
		return nil, fmt.Errorf("%w: status is %q", storage.ErrNotPaused, env.Status)
	}

	e := newEngine(cfg, provider, logger, workspace)
	if err := e.restoreEnvelope(env); err != nil {
		return nil, err
	}
	strat, err := NewStrategy(e.strategyName)
	if err != nil {
		return nil, fmt.Errorf("rebinding snapshot strategy: %w", err)
	}
	e.strategy = strat
	e.resumePoint = e.ctx.currentDT
	e.initialized = true
	e.logger.WithFields(logrus.Fields{
		"strategy":  e.strategyName,
		"paused_at": e.ctx.currentDT,
	}).Info("run resumed from snapshot")
	return e, nil
}

// ForkOptions configures Fork.
type ForkOptions struct {
	// ForkDate is the trading day F the fork restarts from ("YYYY-MM-DD").
	ForkDate string
	// StrategyName optionally swaps the strategy; "" keeps the snapshot's.
	StrategyName string
	// Reinitialize reruns the strategy's initialize hook with cleared user
	// data and custom schedule.
	Reinitialize bool
}

// Fork rebuilds an engine from a pause snapshot rewound to the start of
// trading day F: history rows, position snapshots, benchmark points and
// filled orders dated F or later are discarded, positions are rebuilt from
// the last settled day before F, and the run restarts at F in a fresh
// workspace.
func Fork(cfg *config.Config, provider market.Provider, logger *logrus.Logger, workspace, snapshotPath string, opts ForkOptions) (*Engine, error) {
	env, err := storage.Load(snapshotPath)
	if err != nil {
		return nil, err
	}
	if env.Status != string(StatusPaused) {
		return nil, fmt.Errorf("%w: status is %q", storage.ErrNotPaused, env.Status)
	}
	if _, err := time.Parse(clock.DateLayout, opts.ForkDate); err != nil {
		return nil, fmt.Errorf("fork date: %w", err)
	}

	e := newEngine(cfg, provider, logger, workspace)
	if err := e.restoreEnvelope(env); err != nil {
		return nil, err
	}
	if opts.StrategyName != "" {
		e.strategyName = opts.StrategyName
	}
	strat, err := NewStrategy(e.strategyName)
	if err != nil {
		return nil, fmt.Errorf("binding fork strategy: %w", err)
	}
	e.strategy = strat

	e.rewindTo(opts.ForkDate)
	e.initialized = true
	if opts.Reinitialize {
		e.ctx.userData = make(map[string]any)
		e.ctx.customSchedule = nil
		e.ctx.initialStateSet = false
		if err := e.sandbox.Run(e.ctx, hookInitialize, func() error {
			return e.strategy.Initialize(e.ctx)
		}); err != nil {
			return nil, err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"strategy":  e.strategyName,
		"fork_date": opts.ForkDate,
	}).Info("run forked from snapshot")
	return e, nil
}

// rewindTo truncates every dated record at or after day F and rebuilds the
// position book from the last settled day before F.
func (e *Engine) rewindTo(forkDate string) {
	e.ctx.account.TruncateHistory(forkDate)
	e.benchmark.Truncate(forkDate)

	forkAt := clock.MustAt(forkDate, "00:00:00")
	_, rows := e.ctx.positions.SnapshotBefore(forkDate)
	e.ctx.positions.TruncateSnapshots(forkDate)
	e.ctx.positions.RebuildFromSnapshot(rows, forkAt)

	// Filled orders settled before F are the only surviving order records.
	var archive []*models.Order
	for _, o := range e.ctx.orderBook.Archive() {
		if o.Status == models.OrderFilled && o.FilledTime.Format(clock.DateLayout) < forkDate {
			archive = append(archive, o)
		}
	}
	e.ctx.orderBook.Restore(archive, nil)

	// Cash rolls back to the last recorded equity row; without one the run
	// restarts from the initial funding.
	if n := len(e.ctx.account.History); n > 0 {
		e.ctx.account.Cash = e.ctx.account.History[n-1].Cash
	} else {
		e.ctx.account.Cash = e.ctx.account.InitialCash
	}
	e.ctx.account.UpdateFinancials(e.ctx.positions)

	e.ctx.currentDT = forkAt
	e.ctx.phase = PhaseClosed
	e.currentDate = ""
	e.lastBarTime = time.Time{}
	e.dayIndex = len(e.ctx.account.History)
	e.flags = dailyFlags{}
	e.resumePoint = time.Time{}

	// The fork restarts the clock at F.
	e.cfg.Engine.StartDate = forkDate
}

// Pause requests a pause snapshot at the next safe point.
func (e *Engine) Pause() { e.send(CmdPause) }

// ResumeRun lifts an in-process pause.
func (e *Engine) ResumeRun() { e.send(CmdResume) }

// Stop requests a graceful end of the run.
func (e *Engine) Stop() { e.send(CmdStop) }

func (e *Engine) send(cmd command) {
	select {
	case e.commands <- cmd:
	default:
		e.logger.Warn("control command dropped, queue full")
	}
}

// Run executes the configured mode until completion, pause, stop or a
// fatal error. Cancelling ctx behaves like an interrupt: the state is
// saved under state_interrupt.json and ctx.Err() is returned.
func (e *Engine) Run(ctx context.Context) error {
	if err := os.MkdirAll(e.workspace, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	var err error
	if e.cfg.IsBacktest() {
		err = e.runBacktest(ctx)
	} else {
		err = e.runSimulation(ctx)
	}
	if err != nil {
		e.interrupt(err)
		return err
	}
	return nil
}

// interrupt records a fatal stop: the state is saved so the run can be
// inspected, tagged interrupted.
func (e *Engine) interrupt(cause error) {
	e.mu.Lock()
	e.ctx.status = StatusInterrupted
	e.mu.Unlock()
	e.logger.WithError(cause).Error("run interrupted")
	if err := e.saveSnapshot(storage.InterruptFile, StatusInterrupted); err != nil {
		e.logger.WithError(err).Error("saving interrupt snapshot failed")
	}
}

// pause saves the pause snapshot and blocks until resume or stop. The
// returned bool is false when the run should end while paused.
func (e *Engine) pause(ctx context.Context) (bool, error) {
	e.mu.Lock()
	e.ctx.status = StatusPaused
	e.mu.Unlock()
	if err := e.saveSnapshot(storage.PauseFile, StatusPaused); err != nil {
		return false, err
	}
	e.logger.Info("run paused")
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-e.commands:
			switch cmd {
			case CmdResume:
				e.mu.Lock()
				e.ctx.status = StatusRunning
				e.mu.Unlock()
				e.logger.Info("run resumed")
				return true, nil
			case CmdStop:
				return false, nil
			case CmdPause:
				// already paused
			}
		}
	}
}

// checkpoint drains pending control commands at a safe point. The bool is
// false when the run should end here.
func (e *Engine) checkpoint(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	for {
		select {
		case cmd := <-e.commands:
			switch cmd {
			case CmdPause:
				cont, err := e.pause(ctx)
				if err != nil || !cont {
					return false, err
				}
			case CmdStop:
				return false, nil
			case CmdResume:
				// not paused, ignore
			}
		default:
			return true, nil
		}
	}
}

// finalize closes out the run: finish hook, final snapshot, artifact
// export. The caller prints the report.
func (e *Engine) finalize() error {
	if err := e.sandbox.Run(e.ctx, hookFinish, func() error {
		return e.strategy.Finish(e.ctx)
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.ctx.status = StatusFinished
	e.mu.Unlock()

	if err := e.saveSnapshot(storage.FinalFile, StatusFinished); err != nil {
		return err
	}
	return e.exportArtifacts()
}

// exportArtifacts writes the three CSV files into the workspace.
func (e *Engine) exportArtifacts() error {
	if err := storage.WriteEquityCSV(filepath.Join(e.workspace, storage.EquityCSV), e.ctx.account.History); err != nil {
		return err
	}
	if err := storage.WriteOrdersCSV(filepath.Join(e.workspace, storage.OrdersCSV), e.ctx.orderBook.AllKnown()); err != nil {
		return err
	}
	if err := storage.WritePositionsCSV(filepath.Join(e.workspace, storage.PositionsCSV), e.ctx.positions.Snapshots); err != nil {
		return err
	}
	e.logger.WithField("workspace", e.workspace).Info("run artifacts exported")
	return nil
}

// Context exposes the run context; tests and the report reach through it.
func (e *Engine) Context() *Context { return e.ctx }

// Benchmark exposes the benchmark tracker for the report.
func (e *Engine) Benchmark() *BenchmarkTracker { return e.benchmark }

// Workspace returns the run's artifact directory.
func (e *Engine) Workspace() string { return e.workspace }

// PositionView is a dashboard row for one position slot.
type PositionView struct {
	Symbol          string  `json:"symbol"`
	SymbolName      string  `json:"symbol_name,omitempty"`
	Direction       string  `json:"direction"`
	TotalAmount     int64   `json:"total_amount"`
	AvailableAmount int64   `json:"available_amount"`
	AvgCost         float64 `json:"avg_cost"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
}

// StateView is the dashboard's copy-out snapshot of the run.
type StateView struct {
	Status      RunStatus               `json:"status"`
	Phase       Phase                   `json:"phase"`
	Mode        string                  `json:"mode"`
	Strategy    string                  `json:"strategy"`
	CurrentTime time.Time               `json:"current_time"`
	Portfolio   portfolio.Portfolio     `json:"portfolio"`
	Positions   []PositionView          `json:"positions"`
	OpenOrders  []models.Order          `json:"open_orders"`
	Equity      []portfolio.DailyEquity `json:"equity"`
}

// View assembles a consistent read-only copy of the run state.
func (e *Engine) View() StateView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	view := StateView{
		Status:      e.ctx.status,
		Phase:       e.ctx.phase,
		Mode:        e.cfg.Engine.Mode,
		Strategy:    e.strategyName,
		CurrentTime: e.ctx.currentDT,
		Portfolio:   *e.ctx.account,
	}
	view.Portfolio.History = nil
	view.Equity = append(view.Equity, e.ctx.account.History...)
	for _, pos := range e.ctx.positions.All() {
		view.Positions = append(view.Positions, PositionView{
			Symbol:          pos.Symbol,
			SymbolName:      pos.SymbolName,
			Direction:       string(pos.Direction),
			TotalAmount:     pos.TotalAmount,
			AvailableAmount: pos.AvailableAmount,
			AvgCost:         pos.AvgCost,
			CurrentPrice:    pos.CurrentPrice,
			MarketValue:     pos.MarketValue(),
			UnrealizedPnL:   pos.UnrealizedPnL(),
		})
	}
	for _, o := range e.ctx.orderBook.OpenOrders() {
		view.OpenOrders = append(view.OpenOrders, *o)
	}
	return view
}
