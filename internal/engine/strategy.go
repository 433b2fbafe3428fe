package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Hook names, used for context gating, logging and snapshot bookkeeping.
const (
	hookInitialize    = "initialize"
	hookBeforeTrading = "before_trading"
	hookHandleBar     = "handle_bar"
	hookAfterTrading  = "after_trading"
	hookBrokerSettle  = "broker_settle"
	hookFinish        = "finish"
)

// Strategy is the user-facing lifecycle contract. Every hook receives the
// shared Context; a returned error is recorded as a strategy fault and
// never kills the run.
type Strategy interface {
	Initialize(ctx *Context) error
	BeforeTrading(ctx *Context) error
	HandleBar(ctx *Context, barTime time.Time) error
	AfterTrading(ctx *Context) error
	BrokerSettle(ctx *Context) error
	Finish(ctx *Context) error
}

// BaseStrategy is a no-op implementation to embed so strategies only spell
// out the hooks they care about.
type BaseStrategy struct{}

func (BaseStrategy) Initialize(*Context) error           { return nil }
func (BaseStrategy) BeforeTrading(*Context) error        { return nil }
func (BaseStrategy) HandleBar(*Context, time.Time) error { return nil }
func (BaseStrategy) AfterTrading(*Context) error         { return nil }
func (BaseStrategy) BrokerSettle(*Context) error         { return nil }
func (BaseStrategy) Finish(*Context) error               { return nil }

// Factory builds a fresh strategy instance for a run.
type Factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register binds a strategy name to its factory. Resume and fork re-bind a
// snapshot to its strategy through this registry, so the name is part of
// the persistent state. Duplicate registration panics at init time.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("engine: Register requires a name and a factory")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine: strategy %q registered twice", name))
	}
	registry[name] = factory
}

// NewStrategy instantiates a registered strategy by name.
func NewStrategy(name string) (Strategy, error) {
	registryMu.RLock()
	factory := registry[name]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("strategy %q is not registered", name)
	}
	return factory(), nil
}

// RegisteredStrategies lists the known strategy names, sorted.
func RegisteredStrategies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
