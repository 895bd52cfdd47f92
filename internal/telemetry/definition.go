package telemetry

import (
	"strings"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"github.com/sosodev/duration"
	"github.com/spf13/cast"
)

// MetricType tells how a metric value is interpreted
type MetricType int

const (
	MetricNumeric MetricType = iota
	MetricDiscrete
	MetricGauge
	MetricCounter
)

// CalculationAlgorithm selects the windowed aggregation applied to samples
type CalculationAlgorithm int

const (
	CalculationNone CalculationAlgorithm = iota
	AverageOverInterval
	MaximumDuringInterval
	MinimumDuringInterval
)

var algorithmNames = map[CalculationAlgorithm]string{
	CalculationNone:       "none",
	AverageOverInterval:   "averageOverInterval",
	MaximumDuringInterval: "maximumDuringInterval",
	MinimumDuringInterval: "minimumDuringInterval",
}

func (a CalculationAlgorithm) String() string {
	return algorithmNames[a]
}

// ParseCalculationAlgorithm maps a configuration name to an algorithm, case-insensitively
func ParseCalculationAlgorithm(name string) (CalculationAlgorithm, error) {
	for algo, n := range algorithmNames {
		if strings.EqualFold(n, name) {
			return algo, nil
		}
	}
	return CalculationNone, errors.New().WithData(ErrInvalidProperty, "calculationAlgorithm: "+name)
}

// Property names accepted by ApplyProperties
const (
	PropSensingInterval         = "sensingInterval"
	PropCalculationAlgorithm    = "calculationAlgorithm"
	PropCalculationTimeInterval = "calculationTimeInterval"
	PropCalculationPrecision    = "calculationPrecision"
	PropShoreUpPeriod           = "shoreUpPeriod"
)

// MetricDefinition is the static description of a metric, shared by pointer
// between every reader exposing the same kind of metric.
type MetricDefinition struct {
	Name            string
	Path            string
	Units           string
	MetricType      MetricType
	DiscreteValues  []string
	PhysicalContext string
	SensorType      string
	IsLinear        bool

	// SensingInterval is nil until configured. Zero is kept as zero.
	SensingInterval *time.Duration

	CalculationAlgorithm    CalculationAlgorithm
	CalculationTimeInterval time.Duration
	CalculationPrecision    float64 // zero disables rounding
	ShoreUpPeriod           time.Duration
}

// SetSensingIntervalIfUnset backfills the default sensing interval
func (d *MetricDefinition) SetSensingIntervalIfUnset(interval time.Duration) {
	if d.SensingInterval == nil {
		d.SensingInterval = &interval
	}
}

// SetShoreUpPeriod sets the debounce period used by event publishers
func (d *MetricDefinition) SetShoreUpPeriod(period time.Duration) {
	d.ShoreUpPeriod = period
}

// SensingPeriod returns the sensing interval, zero when unset
func (d *MetricDefinition) SensingPeriod() time.Duration {
	if d.SensingInterval == nil {
		return 0
	}
	return *d.SensingInterval
}

// HasCalculation reports whether samples must be kept for windowed aggregation
func (d *MetricDefinition) HasCalculation() bool {
	return d.CalculationAlgorithm != CalculationNone && d.CalculationTimeInterval > 0
}

// ApplyProperties applies configuration overrides. Every property is attempted;
// the first failure is returned after the others were applied.
func (d *MetricDefinition) ApplyProperties(props map[string]any) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for key, raw := range props {
		switch {
		case strings.EqualFold(key, PropSensingInterval):
			interval, err := ParseInterval(raw)
			if err == nil {
				d.SensingInterval = &interval
			}
			keep(err)
		case strings.EqualFold(key, PropCalculationAlgorithm):
			name, err := cast.ToStringE(raw)
			if err != nil {
				keep(errors.New().Wrap(ErrInvalidProperty, err))
				continue
			}
			algo, err := ParseCalculationAlgorithm(name)
			if err == nil {
				d.CalculationAlgorithm = algo
			}
			keep(err)
		case strings.EqualFold(key, PropCalculationTimeInterval):
			interval, err := ParseInterval(raw)
			if err == nil {
				d.CalculationTimeInterval = interval
			}
			keep(err)
		case strings.EqualFold(key, PropCalculationPrecision):
			precision, err := cast.ToFloat64E(raw)
			if err != nil || precision < 0 {
				keep(errors.New().WithData(ErrInvalidProperty, PropCalculationPrecision))
				continue
			}
			d.CalculationPrecision = precision
		case strings.EqualFold(key, PropShoreUpPeriod):
			period, err := ParseInterval(raw)
			if err == nil {
				d.ShoreUpPeriod = period
			}
			keep(err)
		default:
			keep(errors.New().WithData(ErrUnknownProperty, key))
		}
	}

	return firstErr
}

// ParseInterval accepts an ISO8601 duration string ("PT10S") or a number of seconds
func ParseInterval(raw any) (time.Duration, error) {
	if s, ok := raw.(string); ok {
		d, err := duration.Parse(strings.TrimSpace(s))
		if err != nil {
			return 0, errors.New().Wrap(ErrInvalidInterval, err).WithMessage("Invalid ISO8601 interval " + s)
		}
		return d.ToTimeDuration(), nil
	}

	seconds, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, errors.New().Wrap(ErrInvalidInterval, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// FormatInterval renders d as an ISO8601 duration
func FormatInterval(d time.Duration) string {
	return duration.FromTimeDuration(d).String()
}
