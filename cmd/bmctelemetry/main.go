package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/cache"
	"codeberg.org/mutker/bmctelemetry/internal/config"
	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/exporter"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/sim"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
	"codeberg.org/mutker/bmctelemetry/internal/metrics"
	"codeberg.org/mutker/bmctelemetry/internal/pid"
	"codeberg.org/mutker/bmctelemetry/internal/platform"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

const (
	// minSleep bounds the loop when a context keeps failing to build
	minSleep     = time.Second
	closeTimeout = 10 * time.Second
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("platform", cfg.Platform).Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	app, err := newApp(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return
	}

	if err := loop(ctx, app.service, app.exportErr); err != nil {
		logger.Error().Err(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("error in main loop")
	}
	app.cleanup()
}

type app struct {
	service   *telemetry.Service
	history   metrics.Collector
	exporter  *exporter.Exporter
	cache     *cache.RedisCache
	exportErr <-chan error
}

func newApp(ctx context.Context) (*app, error) {
	errFactory := errors.New()

	ctrl, err := newController()
	if err != nil {
		return nil, err
	}

	readers, err := platform.Readers(cfg.Platform)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrBuildReader, err)
	}

	a := &app{}
	var (
		sinks []telemetry.Sink
		opts  []telemetry.ProcessorOption
	)

	if cfg.Metrics.Enabled {
		a.history, err = metrics.NewService(metrics.Config{
			Enabled:      true,
			DBPath:       cfg.Metrics.DBPath,
			BackupDir:    cfg.Metrics.BackupDir,
			BatchSize:    cfg.Metrics.BatchSize,
			BatchTimeout: cfg.Metrics.BatchTimeout,
		})
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitMetrics, err)
		}
		sinks = append(sinks, a.history)
	}

	if cfg.Cache.Enabled {
		a.cache, err = cache.NewRedisCache(ctx, cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			a.cleanup()
			return nil, errFactory.Wrap(errors.ErrInitApp, err)
		}
		sinks = append(sinks, a.cache)
	}

	if cfg.Exporter.Enabled {
		a.exporter = exporter.New(exporter.Config{Listen: cfg.Exporter.Listen})
		a.exportErr = a.exporter.Run(ctx)
		sinks = append(sinks, a.exporter)
		opts = append(opts, telemetry.WithObserver(a.exporter))
	}

	a.service, err = telemetry.NewService(ctrl, readers, cfg.TelemetrySettings(), sinks, opts...)
	if err != nil {
		a.cleanup()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	logger.Info().
		Str("platform", cfg.Platform).
		Int("readers", len(readers)).
		Int("sinks", len(sinks)).
		Msg("Telemetry started")

	return a, nil
}

func newController() (ipmi.Controller, error) {
	if cfg.Controller.Simulator == "" {
		return nil, errors.New().WithData(errors.ErrMissingConfig, "controller.simulator")
	}
	ctrl, err := sim.Load(cfg.Controller.Simulator)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInitApp, err)
	}
	logger.Info().Str("fixture", cfg.Controller.Simulator).Msg("Using simulated controller")
	return ctrl, nil
}

// loop runs cycles until ctx ends or the exporter stops
func loop(ctx context.Context, service *telemetry.Service, exportErr <-chan error) error {
	for {
		changed := service.ProcessAllMetrics(ctx)
		logger.Debug().Int("changed", len(changed)).Msg("Processing cycle done")

		wait := minSleep
		if next, ok := service.EarliestUpdateTime(); ok {
			wait = max(time.Until(next), minSleep)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case err := <-exportErr:
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func (a *app) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if a.service != nil {
		if err := a.service.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to publish metric removal")
		}
	}
	if a.exporter != nil {
		if err := a.exporter.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to stop exporter")
		}
		select {
		case err := <-a.exportErr:
			if err != nil {
				logger.Error().Err(err).Msg("exporter stopped with error")
			}
		case <-ctx.Done():
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close cache")
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Error().Err(errors.New().Wrap(errors.ErrCloseMetrics, err)).Msg("failed to close metric history")
		}
	}
	logger.Info().Msg("Exiting...")
}
