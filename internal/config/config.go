// Package config provides configuration management for the trading framework.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeBacktest   = "backtest"
	ModeSimulation = "simulation"
)

// Bar frequencies.
const (
	FrequencyDaily  = "daily"
	FrequencyMinute = "minute"
	FrequencyTick   = "tick"
)

// Default hook times, used when the lifecycle section leaves them unset.
const (
	DefaultBeforeTradingTime = "09:15:00"
	DefaultHandleBarTime     = "14:55:00"
	DefaultAfterTradingTime  = "15:05:00"
	DefaultBrokerSettleTime  = "15:30:00"
)

// Config is the complete framework configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Account   AccountConfig   `yaml:"account"`
	Matching  MatchingConfig  `yaml:"matching"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

// EngineConfig selects the run mode and the bar frequency.
type EngineConfig struct {
	Mode         string `yaml:"mode"`      // backtest | simulation
	Frequency    string `yaml:"frequency"` // daily | minute | tick
	TickInterval int    `yaml:"tick_interval_seconds"`
	StartDate    string `yaml:"start_date"` // backtest only
	EndDate      string `yaml:"end_date"`   // backtest only
	StrategyName string `yaml:"strategy_name"`
	// BlockThreshold is the sandbox watchdog limit in seconds; a strategy
	// hook running longer triggers a resync request in simulation mode.
	BlockThreshold int `yaml:"block_threshold_seconds"`
	// StrictInit escalates a failing initialize hook to a fatal error
	// instead of continuing with a half-initialized strategy.
	StrictInit bool `yaml:"strict_init"`
}

// AccountConfig defines initial funding and trading rules.
type AccountConfig struct {
	InitialCash     float64 `yaml:"initial_cash"`
	TradingRule     string  `yaml:"trading_rule"` // T+1 | T+0
	TradingMode     string  `yaml:"trading_mode"` // long_only | long_short
	OrderLotSize    int64   `yaml:"order_lot_size"`
	ShortMarginRate float64 `yaml:"short_margin_rate"`
	// AlignMode selects the align_account_state semantics; only "replace"
	// is implemented.
	AlignMode string `yaml:"align_mode"`
}

// MatchingConfig defines slippage and commission parameters.
type MatchingConfig struct {
	Slippage   SlippageConfig   `yaml:"slippage"`
	Commission CommissionConfig `yaml:"commission"`
}

// SlippageConfig holds the fixed-rate slippage model parameters.
type SlippageConfig struct {
	Rate float64 `yaml:"rate"`
}

// CommissionConfig holds the piecewise commission parameters.
type CommissionConfig struct {
	BuyCommission  float64 `yaml:"buy_commission"`
	SellCommission float64 `yaml:"sell_commission"`
	BuyTax         float64 `yaml:"buy_tax"`
	SellTax        float64 `yaml:"sell_tax"`
	MinCommission  float64 `yaml:"min_commission"`
}

// LifecycleConfig defines trading sessions and hook times.
type LifecycleConfig struct {
	// TradingSessions is a list of [open, close] "HH:MM:SS" pairs.
	TradingSessions [][]string  `yaml:"trading_sessions"`
	Hooks           HooksConfig `yaml:"hooks"`
}

// HooksConfig holds the single-shot hook times and the handle_bar schedule.
type HooksConfig struct {
	BeforeTrading string `yaml:"before_trading"`
	AfterTrading  string `yaml:"after_trading"`
	BrokerSettle  string `yaml:"broker_settle"`
	// HandleBar accepts a single "HH:MM:SS" or a list of them.
	HandleBar HandleBarTimes `yaml:"handle_bar"`
}

// HandleBarTimes unmarshals either a scalar time or a list of times.
type HandleBarTimes []string

// UnmarshalYAML accepts both `handle_bar: "14:55:00"` and a sequence form.
func (h *HandleBarTimes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*h = HandleBarTimes{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*h = HandleBarTimes(list)
		return nil
	default:
		return fmt.Errorf("hooks.handle_bar must be a time string or a list of time strings")
	}
}

// BenchmarkConfig names the benchmark symbol tracked alongside equity.
type BenchmarkConfig struct {
	Symbol string `yaml:"symbol"`
}

// SnapshotConfig controls periodic state snapshots in backtest mode.
type SnapshotConfig struct {
	AutoSaveInterval int    `yaml:"auto_save_interval"` // trading days; 0 disables
	AutoSaveMode     string `yaml:"auto_save_mode"`     // overwrite | increment
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// DashboardConfig controls the monitoring HTTP server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WorkspaceConfig names the directory tree run artifacts land in.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// Load reads, expands, parses and validates the configuration file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns a fully defaulted configuration, the base for tests and
// for programmatic runs.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset option with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Engine.Mode == "" {
		c.Engine.Mode = ModeBacktest
	}
	if c.Engine.Frequency == "" {
		c.Engine.Frequency = FrequencyDaily
	}
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = 3
	}
	if c.Engine.BlockThreshold <= 0 {
		c.Engine.BlockThreshold = 5
	}
	if c.Account.InitialCash <= 0 {
		c.Account.InitialCash = 1_000_000
	}
	if c.Account.TradingRule == "" {
		c.Account.TradingRule = "T+1"
	}
	if c.Account.TradingMode == "" {
		c.Account.TradingMode = "long_only"
	}
	if c.Account.OrderLotSize <= 0 {
		c.Account.OrderLotSize = 100
	}
	if c.Account.ShortMarginRate <= 0 {
		c.Account.ShortMarginRate = 0.2
	}
	if c.Account.AlignMode == "" {
		c.Account.AlignMode = "replace"
	}
	if c.Matching.Commission.BuyCommission == 0 {
		c.Matching.Commission.BuyCommission = 0.0002
	}
	if c.Matching.Commission.SellCommission == 0 {
		c.Matching.Commission.SellCommission = 0.0002
	}
	if c.Matching.Commission.SellTax == 0 {
		c.Matching.Commission.SellTax = 0.001
	}
	if c.Matching.Commission.MinCommission == 0 {
		c.Matching.Commission.MinCommission = 5.0
	}
	if len(c.Lifecycle.TradingSessions) == 0 {
		c.Lifecycle.TradingSessions = [][]string{
			{"09:30:00", "11:30:00"},
			{"13:00:00", "15:00:00"},
		}
	}
	if c.Lifecycle.Hooks.BeforeTrading == "" {
		c.Lifecycle.Hooks.BeforeTrading = DefaultBeforeTradingTime
	}
	if c.Lifecycle.Hooks.AfterTrading == "" {
		c.Lifecycle.Hooks.AfterTrading = DefaultAfterTradingTime
	}
	if c.Lifecycle.Hooks.BrokerSettle == "" {
		c.Lifecycle.Hooks.BrokerSettle = DefaultBrokerSettleTime
	}
	if len(c.Lifecycle.Hooks.HandleBar) == 0 {
		c.Lifecycle.Hooks.HandleBar = HandleBarTimes{DefaultHandleBarTime}
	}
	if c.Snapshot.AutoSaveMode == "" {
		c.Snapshot.AutoSaveMode = "increment"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dashboard.Port <= 0 {
		c.Dashboard.Port = 9876
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "workspaces"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Engine.Mode != ModeBacktest && c.Engine.Mode != ModeSimulation {
		return fmt.Errorf("engine.mode must be '%s' or '%s'", ModeBacktest, ModeSimulation)
	}
	switch c.Engine.Frequency {
	case FrequencyDaily, FrequencyMinute, FrequencyTick:
	default:
		return fmt.Errorf("engine.frequency must be daily, minute or tick")
	}
	if c.Engine.Mode == ModeBacktest {
		if _, err := time.Parse("2006-01-02", c.Engine.StartDate); err != nil {
			return fmt.Errorf("engine.start_date: %w", err)
		}
		if _, err := time.Parse("2006-01-02", c.Engine.EndDate); err != nil {
			return fmt.Errorf("engine.end_date: %w", err)
		}
		if c.Engine.StartDate > c.Engine.EndDate {
			return fmt.Errorf("engine.start_date must not be after engine.end_date")
		}
	}
	if c.Account.TradingRule != "T+1" && c.Account.TradingRule != "T+0" {
		return fmt.Errorf("account.trading_rule must be 'T+1' or 'T+0'")
	}
	if c.Account.TradingMode != "long_only" && c.Account.TradingMode != "long_short" {
		return fmt.Errorf("account.trading_mode must be 'long_only' or 'long_short'")
	}
	if c.Account.AlignMode != "replace" {
		return fmt.Errorf("account.align_mode: only 'replace' is supported")
	}
	if c.Matching.Slippage.Rate < 0 {
		return fmt.Errorf("matching.slippage.rate must be >= 0")
	}
	for _, session := range c.Lifecycle.TradingSessions {
		if len(session) != 2 {
			return fmt.Errorf("lifecycle.trading_sessions entries must be [open, close] pairs")
		}
		for _, ts := range session {
			if _, err := time.Parse("15:04:05", ts); err != nil {
				return fmt.Errorf("lifecycle.trading_sessions time %q: %w", ts, err)
			}
		}
	}
	for _, ts := range []string{
		c.Lifecycle.Hooks.BeforeTrading,
		c.Lifecycle.Hooks.AfterTrading,
		c.Lifecycle.Hooks.BrokerSettle,
	} {
		if _, err := time.Parse("15:04:05", ts); err != nil {
			return fmt.Errorf("lifecycle.hooks time %q: %w", ts, err)
		}
	}
	for _, ts := range c.Lifecycle.Hooks.HandleBar {
		if _, err := time.Parse("15:04:05", ts); err != nil {
			return fmt.Errorf("lifecycle.hooks.handle_bar time %q: %w", ts, err)
		}
	}
	if c.Snapshot.AutoSaveMode != "overwrite" && c.Snapshot.AutoSaveMode != "increment" {
		return fmt.Errorf("snapshot.auto_save_mode must be 'overwrite' or 'increment'")
	}
	return nil
}

// IsBacktest reports whether the engine runs in deterministic backtest mode.
func (c *Config) IsBacktest() bool { return c.Engine.Mode == ModeBacktest }

// TickInterval returns the simulation tick granularity.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickInterval) * time.Second
}

// BlockThreshold returns the sandbox watchdog limit.
func (c *Config) BlockThreshold() time.Duration {
	return time.Duration(c.Engine.BlockThreshold) * time.Second
}
