package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/config"
	"github.com/tillsync/tillsync/connectivity"
	"github.com/tillsync/tillsync/logging"
	"github.com/tillsync/tillsync/metrics"
	"github.com/tillsync/tillsync/storage/sqlite"
	"github.com/tillsync/tillsync/transport/httptransport"
)

// newEngine wires the full client stack from configuration: sqlite store,
// HTTP remote, connectivity monitor and the engine itself. The caller owns
// the returned monitor and engine and must close both.
func newEngine(cfg config.Config) (*tillsync.Engine, *connectivity.Monitor, error) {
	store, err := sqlite.Open(&sqlite.Config{
		DataSourceName: cfg.Database.Path,
		EnableWAL:      cfg.Database.EnableWAL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}

	defaults := httptransport.DefaultOptions()
	remote := httptransport.NewClient(cfg.Remote.BaseURL,
		httptransport.WithRequestTimeout(cfg.Remote.RequestTimeout),
		httptransport.WithRetryConfig(cfg.Remote.RetryMax, defaults.RetryWaitMin, defaults.RetryWaitMax))

	monitor := connectivity.NewMonitor(connectivity.Options{
		Probe:    connectivity.NewHTTPProbe(cfg.HealthURL(), cfg.Remote.RequestTimeout),
		Interval: cfg.Connectivity.Interval,
	})

	engine, err := tillsync.New(store.Cache(), store.Outbox(), remote, monitor, &tillsync.Options{
		Timeout: cfg.Remote.RequestTimeout,
		Metrics: metrics.NewCollector(prometheus.DefaultRegisterer),
	})
	if err != nil {
		store.Close()
		monitor.Close()
		return nil, nil, err
	}
	return engine, monitor, nil
}

// RunSync replays all pending outbox entries in one pass and reports the
// outcome. It fails when the remote is unreachable or the pass halts.
func RunSync(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging)
	logger := logging.WithComponent(logging.Component("sync"))

	engine, monitor, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	defer monitor.Close()

	probe := connectivity.NewHTTPProbe(cfg.HealthURL(), cfg.Remote.RequestTimeout)
	if !probe.Check(ctx) {
		return fmt.Errorf("remote %s is unreachable", cfg.HealthURL())
	}
	monitor.SetOnline(true)

	// SetOnline already triggered a detached replay pass; wait for our own
	// explicit pass instead so the exit code reflects the result.
	result, err := engine.SyncNow(ctx)
	if err == tillsync.ErrReplayInProgress {
		logger.Info("replay already running, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("replay pass finished",
		slog.Int("replayed", result.Replayed),
		slog.Int("remaining", result.Remaining),
		slog.Duration("duration", result.Duration))

	if result.Err != nil {
		return fmt.Errorf("replay halted with %d entries remaining: %w", result.Remaining, result.Err)
	}
	return nil
}
