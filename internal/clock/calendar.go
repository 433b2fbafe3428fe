// Package clock owns trading-day and session-time arithmetic: the calendar
// cache, intraday session boundaries and the handle_bar schedule points.
package clock

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/market"
)

// DateLayout is the canonical trading-day format.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical intraday wall-time format.
const TimeLayout = "15:04:05"

// Session is one [open, close] window of the trading day.
type Session struct {
	Open  string
	Close string
}

// Contains reports whether the "HH:MM:SS" wall time falls inside the session.
func (s Session) Contains(hhmmss string) bool {
	return s.Open <= hhmmss && hhmmss <= s.Close
}

// Calendar answers trading-day and session questions. The full calendar is
// fetched from the provider once and cached; providers may serve it from a
// remote source.
type Calendar struct {
	provider market.Provider
	sessions []Session
	logger   *logrus.Logger

	cache map[string]bool
	days  []string
}

// NewCalendar builds a calendar over the provider for the configured
// sessions. The provider is queried lazily on first use.
func NewCalendar(provider market.Provider, cfg *config.Config, logger *logrus.Logger) *Calendar {
	sessions := make([]Session, 0, len(cfg.Lifecycle.TradingSessions))
	for _, s := range cfg.Lifecycle.TradingSessions {
		sessions = append(sessions, Session{Open: s[0], Close: s[1]})
	}
	return &Calendar{provider: provider, sessions: sessions, logger: logger}
}

func (c *Calendar) ensureLoaded(start, end string) error {
	if c.cache != nil {
		return nil
	}
	days, err := c.provider.TradingCalendar(start, end)
	if err != nil {
		return fmt.Errorf("loading trading calendar: %w", err)
	}
	c.days = append([]string(nil), days...)
	sort.Strings(c.days)
	c.cache = make(map[string]bool, len(days))
	for _, d := range days {
		c.cache[d] = true
	}
	return nil
}

// Preload fetches and caches the calendar for [start, end].
func (c *Calendar) Preload(start, end string) error {
	return c.ensureLoaded(start, end)
}

// TradingDays returns the cached trading days within [start, end].
func (c *Calendar) TradingDays(start, end string) ([]string, error) {
	if err := c.ensureLoaded(start, end); err != nil {
		return nil, err
	}
	var days []string
	for _, d := range c.days {
		if d >= start && d <= end {
			days = append(days, d)
		}
	}
	return days, nil
}

// IsTradingDay reports whether dt falls on a cached trading day.
func (c *Calendar) IsTradingDay(dt time.Time) bool {
	return c.cache[dt.Format(DateLayout)]
}

// Sessions returns the configured intraday sessions.
func (c *Calendar) Sessions() []Session {
	return c.sessions
}

// InSession reports whether the wall time of dt is inside any session.
func (c *Calendar) InSession(dt time.Time) bool {
	hhmmss := dt.Format(TimeLayout)
	for _, s := range c.sessions {
		if s.Contains(hhmmss) {
			return true
		}
	}
	return false
}

// SchedulePoints builds the sorted per-day handle_bar times for the
// configured frequency, merged with the strategy's custom points. Points are
// de-duplicated and clamped to the trading sessions; out-of-session points
// are dropped with a warning.
func (c *Calendar) SchedulePoints(cfg *config.Config, custom []string) []string {
	seen := make(map[string]bool)
	var points []string

	add := func(ts string) {
		if seen[ts] {
			return
		}
		inSession := false
		for _, s := range c.sessions {
			if s.Contains(ts) {
				inSession = true
				break
			}
		}
		if !inSession {
			if c.logger != nil {
				c.logger.WithField("time", ts).Warn("schedule point outside trading sessions, dropped")
			}
			return
		}
		seen[ts] = true
		points = append(points, ts)
	}

	switch cfg.Engine.Frequency {
	case config.FrequencyDaily:
		for _, ts := range cfg.Lifecycle.Hooks.HandleBar {
			add(ts)
		}
	default:
		step := time.Minute
		if cfg.Engine.Frequency == config.FrequencyTick {
			step = cfg.TickInterval()
		}
		for _, s := range c.sessions {
			open, err1 := time.Parse(TimeLayout, s.Open)
			close_, err2 := time.Parse(TimeLayout, s.Close)
			if err1 != nil || err2 != nil {
				continue
			}
			for t := open; !t.After(close_); t = t.Add(step) {
				add(t.Format(TimeLayout))
			}
		}
	}

	for _, ts := range custom {
		add(ts)
	}

	sort.Strings(points)
	return points
}

// At combines a trading day and a wall time into a timestamp.
func At(date, hhmmss string) (time.Time, error) {
	return time.Parse(DateLayout+" "+TimeLayout, date+" "+hhmmss)
}

// MustAt is At for static inputs; it panics on malformed input.
func MustAt(date, hhmmss string) time.Time {
	t, err := At(date, hhmmss)
	if err != nil {
		panic(err)
	}
	return t
}
