package telemetry

import (
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

const (
	DefaultInterval      = "PT10S"
	defaultShoreUpPeriod = "PT10S"
)

// Settings configure the readers handed to a Service. Intervals are ISO8601
// strings or numbers of seconds.
type Settings struct {
	DefaultInterval any
	ShoreUpPeriod   any

	// Metrics holds property overrides keyed by metric definition name
	Metrics map[string]map[string]any
}

func DefaultSettings() Settings {
	return Settings{
		DefaultInterval: DefaultInterval,
		ShoreUpPeriod:   defaultShoreUpPeriod,
	}
}

// Validate rejects intervals that cannot be parsed. Zero intervals are
// accepted here and replaced by the default when configuring.
func (s Settings) Validate() error {
	errFactory := errors.New()
	for name, raw := range map[string]any{"default_interval": s.DefaultInterval, "shoreup_period": s.ShoreUpPeriod} {
		if raw == nil {
			continue
		}
		if _, err := ParseInterval(raw); err != nil {
			return errFactory.Wrap(ErrInvalidConfig, err).WithMessage("Invalid " + name)
		}
	}
	return nil
}

// intervalOrDefault parses raw, falling back to fallback when raw is
// missing, unparsable or not positive.
func intervalOrDefault(raw any, name string, fallback time.Duration) time.Duration {
	if raw == nil {
		return fallback
	}
	d, err := ParseInterval(raw)
	if err != nil || d <= 0 {
		log := logger.New("telemetry")
		log.Warn().
			Str("property", name).
			Str("default", FormatInterval(fallback)).
			Msg("Incorrect interval, using default value")
		return fallback
	}
	return d
}
