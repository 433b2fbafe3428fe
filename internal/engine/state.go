package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/wdc63/pqtrader/internal/models"
	"github.com/wdc63/pqtrader/internal/portfolio"
	"github.com/wdc63/pqtrader/internal/storage"
)

// Snapshot component section names.
const (
	sectionContext   = "context"
	sectionPortfolio = "portfolio"
	sectionPositions = "positions"
	sectionOrders    = "orders"
	sectionScheduler = "scheduler"
	sectionBenchmark = "benchmark"
)

// contextState is the persisted shape of the Context's run-level fields.
type contextState struct {
	CurrentDT       time.Time      `json:"current_dt"`
	Phase           Phase          `json:"phase"`
	Mode            string         `json:"mode"`
	Frequency       string         `json:"frequency"`
	StrategyName    string         `json:"strategy_name"`
	StrategySource  string         `json:"strategy_source,omitempty"`
	UserData        map[string]any `json:"user_data"`
	CustomSchedule  []string       `json:"custom_schedule,omitempty"`
	InitialStateSet bool           `json:"initial_state_set"`
}

// ordersState is the persisted shape of the order book.
type ordersState struct {
	Archive []*models.Order `json:"archive"`
	Today   []*models.Order `json:"today"`
}

// dailyFlags tracks which single-shot events already ran on the current day.
type dailyFlags struct {
	BeforeDone bool `json:"before_done"`
	AfterDone  bool `json:"after_done"`
	SettleDone bool `json:"settle_done"`
}

// schedulerState is the persisted shape of the scheduler's progress.
type schedulerState struct {
	CurrentDate string     `json:"current_date"`
	LastBarTime time.Time  `json:"last_bar_time"`
	DayIndex    int        `json:"day_index"`
	Flags       dailyFlags `json:"flags"`
}

// buildEnvelope collects every component's state under the given status tag.
func (e *Engine) buildEnvelope(status RunStatus) (*storage.Envelope, error) {
	env := storage.NewEnvelope(string(status))

	cs := contextState{
		CurrentDT:       e.ctx.currentDT,
		Phase:           e.ctx.phase,
		Mode:            e.cfg.Engine.Mode,
		Frequency:       e.cfg.Engine.Frequency,
		StrategyName:    e.strategyName,
		StrategySource:  e.strategySource,
		UserData:        e.ctx.userData,
		CustomSchedule:  e.ctx.customSchedule,
		InitialStateSet: e.ctx.initialStateSet,
	}
	if err := env.SetComponent(sectionContext, cs); err != nil {
		return nil, err
	}
	if err := env.SetComponent(sectionPortfolio, e.ctx.account); err != nil {
		return nil, err
	}
	if err := env.SetComponent(sectionPositions, e.ctx.positions); err != nil {
		return nil, err
	}
	os := ordersState{Archive: e.ctx.orderBook.Archive(), Today: e.ctx.orderBook.Today()}
	if err := env.SetComponent(sectionOrders, os); err != nil {
		return nil, err
	}
	ss := schedulerState{
		CurrentDate: e.currentDate,
		LastBarTime: e.lastBarTime,
		DayIndex:    e.dayIndex,
		Flags:       e.flags,
	}
	if err := env.SetComponent(sectionScheduler, ss); err != nil {
		return nil, err
	}
	if err := env.SetComponent(sectionBenchmark, e.benchmark); err != nil {
		return nil, err
	}
	return env, nil
}

// saveSnapshot writes the current state under the workspace with the given
// file name and status tag.
func (e *Engine) saveSnapshot(filename string, status RunStatus) error {
	env, err := e.buildEnvelope(status)
	if err != nil {
		return fmt.Errorf("building %s snapshot: %w", status, err)
	}
	path := filepath.Join(e.workspace, filename)
	if err := storage.Save(path, env); err != nil {
		return fmt.Errorf("saving %s snapshot: %w", status, err)
	}
	e.logger.WithField("path", path).Infof("%s snapshot saved", status)
	return nil
}

// restoreEnvelope loads every known component section into the engine.
// Sections the envelope lacks keep their zero state; sections this build
// does not know stay opaque and survive the next save.
func (e *Engine) restoreEnvelope(env *storage.Envelope) error {
	var cs contextState
	ok, err := env.Component(sectionContext, &cs)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing context section", storage.ErrCorruptSnapshot)
	}
	if cs.Mode != e.cfg.Engine.Mode {
		e.logger.WithFields(map[string]any{
			"snapshot": cs.Mode, "config": e.cfg.Engine.Mode,
		}).Warn("snapshot was taken in a different run mode")
	}
	e.ctx.currentDT = cs.CurrentDT
	e.ctx.phase = cs.Phase
	e.ctx.userData = cs.UserData
	if e.ctx.userData == nil {
		e.ctx.userData = make(map[string]any)
	}
	e.ctx.customSchedule = cs.CustomSchedule
	e.ctx.initialStateSet = cs.InitialStateSet
	e.strategyName = cs.StrategyName
	e.strategySource = cs.StrategySource

	var account portfolio.Portfolio
	if ok, err = env.Component(sectionPortfolio, &account); err != nil {
		return err
	} else if ok {
		*e.ctx.account = account
	}

	var positions portfolio.PositionManager
	if ok, err = env.Component(sectionPositions, &positions); err != nil {
		return err
	} else if ok {
		if positions.Positions == nil {
			positions.Positions = make(map[string]*models.Position)
		}
		if positions.Snapshots == nil {
			positions.Snapshots = make(map[string][]models.DailySnapshot)
		}
		*e.ctx.positions = positions
	}

	var orders ordersState
	if ok, err = env.Component(sectionOrders, &orders); err != nil {
		return err
	} else if ok {
		e.ctx.orderBook.Restore(orders.Archive, orders.Today)
	}

	var sched schedulerState
	if ok, err = env.Component(sectionScheduler, &sched); err != nil {
		return err
	} else if ok {
		e.currentDate = sched.CurrentDate
		e.lastBarTime = sched.LastBarTime
		e.dayIndex = sched.DayIndex
		e.flags = sched.Flags
	}

	var bench BenchmarkTracker
	if ok, err = env.Component(sectionBenchmark, &bench); err != nil {
		return err
	} else if ok {
		e.benchmark.History = bench.History
		if e.benchmark.Symbol == "" {
			e.benchmark.Symbol = bench.Symbol
		}
	}
	return nil
}
