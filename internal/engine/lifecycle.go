package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// Sandbox isolates strategy hook execution from the engine: a panic or a
// returned error is logged and recorded, never propagated. A watchdog
// measures hook duration; in simulation mode a hook exceeding the block
// threshold marks the run for a realtime resync.
type Sandbox struct {
	logger     *logrus.Logger
	threshold  time.Duration
	simulation bool
	strictInit bool
}

// NewSandbox configures the hook isolation layer.
func NewSandbox(logger *logrus.Logger, threshold time.Duration, simulation, strictInit bool) *Sandbox {
	return &Sandbox{
		logger:     logger,
		threshold:  threshold,
		simulation: simulation,
		strictInit: strictInit,
	}
}

// Run executes one hook inside the sandbox. The returned error is non-nil
// only for the escalation case: a failing initialize under strict_init.
func (s *Sandbox) Run(ctx *Context, hook string, fn func() error) error {
	ctx.currentHook = hook
	started := time.Now()

	err := s.invoke(hook, fn)

	elapsed := time.Since(started)
	ctx.currentHook = ""

	if err != nil {
		ctx.strategyErrorToday = true
		s.logger.WithError(err).WithFields(logrus.Fields{
			"hook":    hook,
			"elapsed": elapsed,
		}).Error("strategy hook failed")
		if hook == hookInitialize && s.strictInit {
			return fmt.Errorf("initialize failed under strict_init: %w", err)
		}
	}

	if s.simulation && elapsed > s.threshold {
		ctx.resyncRequested = true
		s.logger.WithFields(logrus.Fields{
			"hook":      hook,
			"elapsed":   elapsed,
			"threshold": s.threshold,
		}).Warn("strategy hook blocked past threshold, realtime resync scheduled")
	}
	return nil
}

// invoke converts a hook panic into an error carrying the stack.
func (s *Sandbox) invoke(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", hook, r, debug.Stack())
		}
	}()
	return fn()
}
