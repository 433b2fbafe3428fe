// Command qtrader runs the trading framework: fresh runs, resumed runs
// and forked what-if runs, each with an optional monitoring dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wdc63/pqtrader/internal/config"
	"github.com/wdc63/pqtrader/internal/dashboard"
	"github.com/wdc63/pqtrader/internal/engine"
	"github.com/wdc63/pqtrader/internal/market"
	"github.com/wdc63/pqtrader/internal/report"
	_ "github.com/wdc63/pqtrader/internal/strategy" // register built-in strategies
)

// errRunFailed marks engine failures so main can exit 1 instead of the
// usage exit code.
var errRunFailed = errors.New("run failed")

var (
	flagConfig   string
	flagData     string
	flagSnapshot string
	flagForkDate string
	flagStrategy string
	flagReinit   bool
)

func main() {
	root := &cobra.Command{
		Use:           "qtrader",
		Short:         "Event-driven backtest and simulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "configuration file")
	root.PersistentFlags().StringVarP(&flagData, "data", "d", "data", "market data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(cfg *config.Config, provider market.Provider, logger *logrus.Logger) (*engine.Engine, error) {
				workspace := newWorkspace(cfg)
				return engine.New(cfg, provider, logger, workspace)
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a paused run from its snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagSnapshot == "" {
				return fmt.Errorf("--snapshot is required")
			}
			return withEngine(cmd.Context(), func(cfg *config.Config, provider market.Provider, logger *logrus.Logger) (*engine.Engine, error) {
				workspace := filepath.Dir(flagSnapshot)
				return engine.Resume(cfg, provider, logger, workspace, flagSnapshot)
			})
		},
	}
	resumeCmd.Flags().StringVarP(&flagSnapshot, "snapshot", "s", "", "pause snapshot file")

	forkCmd := &cobra.Command{
		Use:   "fork",
		Short: "Branch a what-if run from a snapshot at a past trading day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagSnapshot == "" || flagForkDate == "" {
				return fmt.Errorf("--snapshot and --date are required")
			}
			return withEngine(cmd.Context(), func(cfg *config.Config, provider market.Provider, logger *logrus.Logger) (*engine.Engine, error) {
				workspace := newWorkspace(cfg)
				return engine.Fork(cfg, provider, logger, workspace, flagSnapshot, engine.ForkOptions{
					ForkDate:     flagForkDate,
					StrategyName: flagStrategy,
					Reinitialize: flagReinit,
				})
			})
		},
	}
	forkCmd.Flags().StringVarP(&flagSnapshot, "snapshot", "s", "", "pause snapshot file")
	forkCmd.Flags().StringVar(&flagForkDate, "date", "", "fork trading day (YYYY-MM-DD)")
	forkCmd.Flags().StringVar(&flagStrategy, "strategy", "", "replacement strategy name")
	forkCmd.Flags().BoolVar(&flagReinit, "reinitialize", false, "rerun the strategy's initialize hook")

	listCmd := &cobra.Command{
		Use:   "strategies",
		Short: "List the registered strategies",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			for _, name := range engine.RegisteredStrategies() {
				fmt.Println(name)
			}
		},
	}

	root.AddCommand(runCmd, resumeCmd, forkCmd, listCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, errRunFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// newWorkspace creates a unique run directory under the workspace root.
func newWorkspace(cfg *config.Config) string {
	return filepath.Join(cfg.Workspace.Root, time.Now().Format("20060102_150405"))
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// newProvider builds the data provider stack: CSV history files, wrapped
// with a rate limiter and a circuit breaker in simulation mode where the
// provider is treated as a remote feed.
func newProvider(cfg *config.Config, logger *logrus.Logger) (market.Provider, error) {
	base, err := market.NewCSVProvider(flagData)
	if err != nil {
		return nil, err
	}
	if cfg.IsBacktest() {
		return base, nil
	}
	throttled := market.NewThrottledProvider(base, 50)
	return market.NewBreakerProvider(throttled, logger), nil
}

// withEngine builds the engine, runs it next to the dashboard and prints
// the report when the run completes.
func withEngine(ctx context.Context, build func(*config.Config, market.Provider, *logrus.Logger) (*engine.Engine, error)) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", errRunFailed, err)
	}
	eng, err := build(cfg, provider, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", errRunFailed, err)
	}

	g, runCtx := errgroup.WithContext(ctx)

	var srv *dashboard.Server
	if cfg.Dashboard.Enabled {
		srv = dashboard.NewServer(dashboard.Config{Port: cfg.Dashboard.Port}, eng, logger)
		g.Go(srv.Start)
	}

	g.Go(func() error {
		defer func() {
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Warn("dashboard shutdown failed")
				}
			}
		}()
		return eng.Run(runCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", errRunFailed, err)
	}

	view := eng.View()
	switch view.Status {
	case engine.StatusFinished:
		summary := report.Compute(view.Equity, view.Portfolio.InitialCash, eng.Benchmark().Returns())
		if err := report.Render(os.Stdout, summary, eng.Benchmark().Symbol != ""); err != nil {
			logger.WithError(err).Warn("rendering report failed")
		}
		logger.WithField("workspace", eng.Workspace()).Info("run finished")
	case engine.StatusPaused:
		logger.WithField("workspace", eng.Workspace()).Info("run paused, resume with the saved snapshot")
	case engine.StatusInterrupted:
		return fmt.Errorf("%w: run interrupted", errRunFailed)
	}
	return nil
}
