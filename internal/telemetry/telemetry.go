// Package telemetry produces metric values and resource health from a
// management controller. Readers are grouped by type and share a Context
// refreshed once per cycle; the MetricsProcessor schedules them on their
// sensing intervals and the Service publishes what changed to its sinks.
package telemetry

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

// Service runs processing cycles and hands changed metrics to sinks
type Service struct {
	processor *MetricsProcessor
	sinks     []Sink
	logger    logger.Logger
}

// NewService configures readers with settings and builds their processor
func NewService(ctrl ipmi.Controller, readers []Reader, settings Settings, sinks []Sink, opts ...ProcessorOption) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	Configure(readers, settings)

	return &Service{
		processor: NewMetricsProcessor(ctrl, readers, opts...),
		sinks:     sinks,
		logger:    logger.New("telemetry"),
	}, nil
}

// Configure backfills the default sensing interval and the shore-up period
// of every definition, then applies the per metric overrides. Failing
// overrides are logged and skipped.
func Configure(readers []Reader, settings Settings) {
	log := logger.New("telemetry")

	fallback, _ := ParseInterval(DefaultInterval)
	interval := intervalOrDefault(settings.DefaultInterval, "defaultInterval", fallback)
	shoreUp := intervalOrDefault(settings.ShoreUpPeriod, "shoreupPeriod", fallback)

	log.Info().
		Str("default_interval", FormatInterval(interval)).
		Str("shoreup_period", FormatInterval(shoreUp)).
		Int("readers", len(readers)).
		Msg("Configuring telemetry")

	configured := make(map[*MetricDefinition]bool)
	used := make(map[string]bool)
	for _, r := range readers {
		def := r.Definition()
		if def == nil || configured[def] {
			continue
		}
		configured[def] = true
		def.SetSensingIntervalIfUnset(interval)
		def.SetShoreUpPeriod(shoreUp)

		for name, props := range settings.Metrics {
			if !strings.EqualFold(name, def.Name) {
				continue
			}
			used[name] = true
			if err := def.ApplyProperties(props); err != nil {
				log.Warn().Err(err).Str("metric", def.Name).Msg("Metric properties not fully applied")
			}
		}
	}

	for name := range settings.Metrics {
		if !used[name] {
			log.Warn().Str("metric", name).Msg("Properties for unknown metric ignored")
		}
	}
}

// ProcessAllMetrics runs one cycle and publishes the changed metrics to
// every sink. Sink failures are logged and do not stop other sinks.
func (s *Service) ProcessAllMetrics(ctx context.Context) []Metric {
	changed := s.processor.ReadAllMetrics()
	if len(changed) == 0 {
		s.logger.Debug().Msg("No metrics changed")
		return nil
	}

	now := s.processor.clock.Now()
	metrics := make([]Metric, 0, len(changed))
	for _, r := range changed {
		metrics = append(metrics, toMetric(r, now))
	}

	s.publish(ctx, metrics)
	return metrics
}

// Close publishes the removal of every metric filled by the readers
func (s *Service) Close(ctx context.Context) error {
	now := s.processor.clock.Now()

	var removed []Metric
	for _, r := range s.processor.Readers() {
		if r.FillsMetric() {
			m := toMetric(r, now)
			m.Removed = true
			removed = append(removed, m)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if failed := s.publish(ctx, removed); failed > 0 {
		return errors.New().WithData(ErrPublish, "removal not published to every sink")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, metrics []Metric) int {
	failed := 0
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, metrics); err != nil {
			failed++
			s.logger.Error().Err(err).Int("metrics", len(metrics)).Msg("Failed to publish metrics")
		}
	}
	return failed
}

func toMetric(r Reader, now time.Time) Metric {
	def := r.Definition()
	m := Metric{
		Resource:  r.Resource(),
		Name:      def.Name,
		Path:      def.Path,
		Units:     def.Units,
		Timestamp: now,
	}
	if r.FillsMetric() {
		m.Value = r.Value()
		m.HasValue = true
	}
	if r.FillsHealth() {
		m.Health = r.Health()
		m.HasHealth = true
	}
	return m
}

// EarliestUpdateTime returns when the next cycle has work to do
func (s *Service) EarliestUpdateTime() (time.Time, bool) {
	return s.processor.EarliestUpdateTime()
}

// Readers returns the configured readers
func (s *Service) Readers() []Reader {
	return s.processor.Readers()
}
