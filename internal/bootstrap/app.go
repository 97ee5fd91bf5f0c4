// Package bootstrap is the composition root: it loads configuration,
// builds the logger, and owns the top-level Run/Shutdown lifecycle for
// every long-running task (the live loop, the background syncer, the
// metrics server). Grounded on the teacher's bootstrap/app.go
// errgroup+signal.NotifyContext Runner pattern.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gridcore/internal/core"
	"gridcore/pkg/logging"
)

// App holds the composition root's own dependencies: configuration and
// the process-wide logger. Component wiring (the live loop, syncer,
// stores) happens in the binary's main, which has the exchange port
// implementation App itself stays agnostic of.
type App struct {
	Cfg    *Config
	Logger core.ILogger
}

// NewApp bootstraps configuration and logging. configPath may be empty,
// in which case configuration is read purely from the environment.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(envOrDefaultLogLevel())
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{Cfg: cfg, Logger: logger}, nil
}

func envOrDefaultLogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "INFO"
}

// Runner is anything that blocks until ctx is cancelled. The live loop,
// the background syncer, and the metrics HTTP server all satisfy this.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts every runner in its own goroutine under one errgroup, wired
// to a context cancelled on SIGINT/SIGTERM. The first runner to return a
// non-nil, non-context error cancels the rest.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Shutdown logs the cleanup timeout and flushes the logger when it has a
// Sync method. It performs no order cleanup, and timeout bounds nothing.
func (a *App) Shutdown(timeout time.Duration) {
	a.Logger.Info("cleaning up resources", "timeout", timeout)
	if syncer, ok := a.Logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}
