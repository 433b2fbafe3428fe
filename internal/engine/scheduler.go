package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/clock"
	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/storage"
)

// eventKind orders the fixed points of a trading day.
type eventKind int

const (
	evBeforeTrading eventKind = iota
	evBar
	evAfterTrading
	evBrokerSettle
	evSettle
)

// settleWallTime places the settle event after every other event of its
// day so the strict-greater resume comparison stays a plain time compare.
const settleWallTime = "23:59:59"

// event is one scheduled point of a trading day.
type event struct {
	at   time.Time
	kind eventKind
}

// dayEvents lays out one trading day: before_trading, the bar points (each
// followed by a match pulse), after_trading, broker_settle, settlement.
func (e *Engine) dayEvents(date string, points []string) ([]event, error) {
	hooks := e.cfg.Lifecycle.Hooks
	var events []event
	add := func(hhmmss string, kind eventKind) error {
		at, err := clock.At(date, hhmmss)
		if err != nil {
			return fmt.Errorf("schedule point %s %s: %w", date, hhmmss, err)
		}
		events = append(events, event{at: at, kind: kind})
		return nil
	}
	if err := add(hooks.BeforeTrading, evBeforeTrading); err != nil {
		return nil, err
	}
	for _, ts := range points {
		if err := add(ts, evBar); err != nil {
			return nil, err
		}
	}
	if err := add(hooks.AfterTrading, evAfterTrading); err != nil {
		return nil, err
	}
	if err := add(hooks.BrokerSettle, evBrokerSettle); err != nil {
		return nil, err
	}
	if err := add(settleWallTime, evSettle); err != nil {
		return nil, err
	}
	return events, nil
}

// runEvent advances the logical clock to the event and executes it. All
// trading-state mutation happens here, under the view lock.
func (e *Engine) runEvent(ev event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx.currentDT = ev.at
	switch ev.kind {
	case evBeforeTrading:
		e.ctx.phase = PhaseBeforeTrading
		return e.sandbox.Run(e.ctx, hookBeforeTrading, func() error {
			return e.strategy.BeforeTrading(e.ctx)
		})
	case evBar:
		e.ctx.phase = PhaseTrading
		barTime := ev.at
		if err := e.sandbox.Run(e.ctx, hookHandleBar, func() error {
			return e.strategy.HandleBar(e.ctx, barTime)
		}); err != nil {
			return err
		}
		return e.matcher.MatchOrders(ev.at)
	case evAfterTrading:
		e.ctx.phase = PhaseAfterTrading
		return e.sandbox.Run(e.ctx, hookAfterTrading, func() error {
			return e.strategy.AfterTrading(e.ctx)
		})
	case evBrokerSettle:
		e.ctx.phase = PhaseSettlement
		return e.sandbox.Run(e.ctx, hookBrokerSettle, func() error {
			return e.strategy.BrokerSettle(e.ctx)
		})
	case evSettle:
		e.ctx.phase = PhaseSettlement
		date := ev.at.Format(clock.DateLayout)
		e.benchmark.Record(e.provider, ev.at, date, e.logger)
		if err := e.matcher.Settle(ev.at); err != nil {
			return err
		}
		e.ctx.phase = PhaseClosed
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", ev.kind)
	}
}

// initializeStrategy runs the initialize hook once, at the logical start
// time.
func (e *Engine) initializeStrategy(at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx.currentDT = at
	if err := e.sandbox.Run(e.ctx, hookInitialize, func() error {
		return e.strategy.Initialize(e.ctx)
	}); err != nil {
		return err
	}
	e.initialized = true
	return nil
}

// runBacktest replays the configured date range day by day, event by
// event, on the logical clock.
func (e *Engine) runBacktest(ctx context.Context) error {
	start, end := e.cfg.Engine.StartDate, e.cfg.Engine.EndDate
	if err := e.calendar.Preload(start, end); err != nil {
		return err
	}
	days, err := e.calendar.TradingDays(start, end)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return fmt.Errorf("no trading days between %s and %s", start, end)
	}

	if !e.initialized {
		if err := e.initializeStrategy(clock.MustAt(days[0], "00:00:00")); err != nil {
			return err
		}
	}
	points := e.calendar.SchedulePoints(e.cfg, e.ctx.customSchedule)
	resumeDate := ""
	if !e.resumePoint.IsZero() {
		resumeDate = e.resumePoint.Format(clock.DateLayout)
	}

	for _, date := range days {
		if resumeDate != "" && date < resumeDate {
			continue
		}
		events, err := e.dayEvents(date, points)
		if err != nil {
			return err
		}
		e.currentDate = date
		e.ctx.strategyErrorToday = false

		executed := false
		for _, ev := range events {
			if resumeDate == date && !ev.at.After(e.resumePoint) {
				continue
			}
			cont, err := e.checkpoint(ctx)
			if err != nil {
				return err
			}
			if !cont {
				if e.ctx.status == StatusPaused {
					return nil
				}
				return e.finalize()
			}
			if err := e.runEvent(ev); err != nil {
				return err
			}
			executed = true
		}
		if !executed {
			continue
		}
		e.dayIndex++
		if err := e.autoSave(); err != nil {
			return err
		}
	}
	return e.finalize()
}

// autoSave writes a safe-point snapshot every auto_save_interval trading
// days. Snapshots are tagged paused so resume and fork accept them.
func (e *Engine) autoSave() error {
	interval := e.cfg.Snapshot.AutoSaveInterval
	if interval <= 0 || e.dayIndex%interval != 0 {
		return nil
	}
	name := storage.AutoSaveFile
	if e.cfg.Snapshot.AutoSaveMode == "increment" {
		name = storage.AutoSaveFileAt(e.dayIndex)
	}
	return e.saveSnapshot(name, StatusPaused)
}

// barTolerance is how stale a bar point may be and still fire when the
// simulation loop catches up to it.
func (e *Engine) barTolerance() time.Duration {
	switch e.cfg.Engine.Frequency {
	case config.FrequencyDaily:
		return 24 * time.Hour
	case config.FrequencyMinute:
		return time.Minute
	default:
		return e.cfg.TickInterval()
	}
}

// runSimulation drives the wall-clock state machine: a one-second pulse
// fires whichever day events have come due, in day order, and keeps the
// run aligned with realtime after stalls.
func (e *Engine) runSimulation(ctx context.Context) error {
	now := e.ctx.nowFn()
	calStart := now.AddDate(-1, 0, 0).Format(clock.DateLayout)
	calEnd := now.AddDate(0, 3, 0).Format(clock.DateLayout)
	if err := e.calendar.Preload(calStart, calEnd); err != nil {
		return err
	}

	if !e.initialized {
		if err := e.initializeStrategy(now); err != nil {
			return err
		}
		e.currentDate = now.Format(clock.DateLayout)
		e.lastBarTime = now
	} else {
		// A resumed or forked run first reconciles with reality.
		e.synchronizeToRealtime(now)
	}
	points := e.calendar.SchedulePoints(e.cfg, e.ctx.customSchedule)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-e.commands:
			cont, err := e.handleCommand(ctx, cmd)
			if err != nil {
				return err
			}
			if !cont {
				if e.ctx.status == StatusPaused {
					return nil
				}
				return e.finalize()
			}
		case <-ticker.C:
			if err := e.simulationStep(points); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) (bool, error) {
	switch cmd {
	case CmdPause:
		return e.pause(ctx)
	case CmdStop:
		return false, nil
	default:
		return true, nil
	}
}

// simulationStep fires every event that has come due at the wall clock.
func (e *Engine) simulationStep(points []string) error {
	now := e.ctx.nowFn()
	date := now.Format(clock.DateLayout)

	if date != e.currentDate {
		e.currentDate = date
		e.flags = dailyFlags{}
		e.ctx.strategyErrorToday = false
	}

	if !e.calendar.IsTradingDay(now) {
		e.setClock(now, PhaseClosed)
		return nil
	}

	hooks := e.cfg.Lifecycle.Hooks
	beforeAt := clock.MustAt(date, hooks.BeforeTrading)
	afterAt := clock.MustAt(date, hooks.AfterTrading)
	settleAt := clock.MustAt(date, hooks.BrokerSettle)

	if !e.flags.BeforeDone && !now.Before(beforeAt) {
		if err := e.runEvent(event{at: now, kind: evBeforeTrading}); err != nil {
			return err
		}
		e.flags.BeforeDone = true
	}

	tolerance := e.barTolerance()
	for _, ts := range points {
		barAt := clock.MustAt(date, ts)
		if now.Before(barAt) {
			break
		}
		if !barAt.After(e.lastBarTime) {
			continue
		}
		e.lastBarTime = barAt
		if now.Sub(barAt) > tolerance {
			e.logger.WithFields(logrus.Fields{
				"bar":   barAt,
				"delay": now.Sub(barAt),
			}).Warn("bar point missed beyond tolerance, skipped")
			continue
		}
		if err := e.runEvent(event{at: barAt, kind: evBar}); err != nil {
			return err
		}
	}

	if !e.flags.AfterDone && !now.Before(afterAt) {
		if err := e.runEvent(event{at: now, kind: evAfterTrading}); err != nil {
			return err
		}
		e.flags.AfterDone = true
	}

	if !e.flags.SettleDone && !now.Before(settleAt) {
		if err := e.runEvent(event{at: now, kind: evBrokerSettle}); err != nil {
			return err
		}
		if err := e.runEvent(event{at: now, kind: evSettle}); err != nil {
			return err
		}
		e.flags.SettleDone = true
		e.dayIndex++
	}

	e.refreshPhase(now, beforeAt, afterAt)

	if e.ctx.resyncRequested {
		e.synchronizeToRealtime(e.ctx.nowFn())
	}
	return nil
}

// setClock publishes the logical time and phase to the dashboard view.
func (e *Engine) setClock(now time.Time, phase Phase) {
	e.mu.Lock()
	e.ctx.currentDT = now
	e.ctx.phase = phase
	e.mu.Unlock()
}

// refreshPhase recomputes the intraday phase from the wall clock.
func (e *Engine) refreshPhase(now, beforeAt, afterAt time.Time) {
	var phase Phase
	switch {
	case now.Before(beforeAt):
		phase = PhaseClosed
	case e.calendar.InSession(now):
		phase = PhaseTrading
	case now.Before(afterAt):
		// Between sessions or between the before hook and the open.
		phase = PhaseBeforeTrading
		if e.flags.BeforeDone && e.lastBarTime.Format(clock.DateLayout) == now.Format(clock.DateLayout) {
			phase = PhaseTrading
		}
	case !e.flags.SettleDone:
		phase = PhaseAfterTrading
	default:
		phase = PhaseClosed
	}
	e.setClock(now, phase)
}

// synchronizeToRealtime reconciles a stalled or restarted simulation with
// the wall clock: open orders cannot have survived reality and expire,
// missed trading days get a settlement-only pass, and the bar watermark
// jumps to now so stale bars never fire.
func (e *Engine) synchronizeToRealtime(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx.orderBook.ExpireOpen()

	today := now.Format(clock.DateLayout)
	lastSettled := ""
	if n := len(e.ctx.account.History); n > 0 {
		lastSettled = e.ctx.account.History[n-1].Date
	}
	if lastSettled != "" {
		if days, err := e.calendar.TradingDays(lastSettled, today); err == nil {
			for _, d := range days {
				if d <= lastSettled || d >= today {
					continue
				}
				at := clock.MustAt(d, settleWallTime)
				e.benchmark.Record(e.provider, at, d, e.logger)
				if err := e.matcher.Settle(at); err != nil {
					e.logger.WithError(err).WithField("date", d).Error("catch-up settlement failed")
				} else {
					e.logger.WithField("date", d).Info("missed trading day settled")
				}
			}
		}
	}

	hooks := e.cfg.Lifecycle.Hooks
	e.currentDate = today
	e.flags.BeforeDone = !now.Before(clock.MustAt(today, hooks.BeforeTrading))
	e.flags.AfterDone = !now.Before(clock.MustAt(today, hooks.AfterTrading))
	e.flags.SettleDone = lastSettled == today
	e.lastBarTime = now
	e.ctx.currentDT = now
	e.ctx.resyncRequested = false

	e.logger.WithField("now", now).Info("synchronized to realtime")
}
