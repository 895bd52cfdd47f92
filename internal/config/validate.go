package config

import (
	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

// Validate checks the loaded values
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Platform == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "platform")
	}
	if err := c.TelemetrySettings().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidInterval, err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.DBPath == "" {
			return errFactory.WithData(errors.ErrMissingConfig, "metrics.db_path")
		}
		if c.Metrics.BatchSize <= 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "metrics.batch_size must be positive")
		}
	}
	if c.Exporter.Enabled && c.Exporter.Listen == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "exporter.listen")
	}
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return errFactory.WithData(errors.ErrMissingConfig, "cache.addr")
		}
		if c.Cache.TTL < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, "cache.ttl must not be negative")
		}
	}

	return nil
}

// TelemetrySettings returns the reader settings of the telemetry section
func (c *Config) TelemetrySettings() telemetry.Settings {
	settings := telemetry.DefaultSettings()
	if c.Telemetry.DefaultInterval != nil {
		settings.DefaultInterval = c.Telemetry.DefaultInterval
	}
	if c.Telemetry.ShoreUpPeriod != nil {
		settings.ShoreUpPeriod = c.Telemetry.ShoreUpPeriod
	}
	settings.Metrics = c.Telemetry.Metrics
	return settings
}
