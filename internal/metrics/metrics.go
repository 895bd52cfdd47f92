// Package metrics keeps a history of published metric changes in SQLite.
package metrics

import (
	"context"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopCollector struct{}

// NewService returns the history sink for cfg, a no-op sink when disabled
func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()
	log := logger.New("metrics")

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Metric history disabled, using no-op collector")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create metrics repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Msg("Metrics service initialized successfully")

	return &service{repo: repo, cfg: cfg}, nil
}

func (s *service) Publish(ctx context.Context, metrics []telemetry.Metric) error {
	errFactory := errors.New()

	if len(metrics) == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	samples := make([]Sample, 0, len(metrics))
	for _, m := range metrics {
		samples = append(samples, SampleFromMetric(m))
	}

	if err := s.repo.Record(samples); err != nil {
		return errFactory.Wrap(ErrMetricsCollection, err)
	}
	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (noopCollector) Publish(context.Context, []telemetry.Metric) error { return nil }

func (noopCollector) Close() error { return nil }
