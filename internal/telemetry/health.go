package telemetry

import (
	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
)

var thresholdHealthTypeID = NewTypeID()

const (
	criticalThresholds = command.ThresholdLowerCritical | command.ThresholdLowerNonRecoverable |
		command.ThresholdUpperCritical | command.ThresholdUpperNonRecoverable
	warningThresholds = command.ThresholdLowerNonCritical | command.ThresholdUpperNonCritical
)

// HealthFromThresholds maps threshold comparison status bits to a health level
func HealthFromThresholds(status uint8) Health {
	switch {
	case status&criticalThresholds != 0:
		return HealthCritical
	case status&warningThresholds != 0:
		return HealthWarning
	default:
		return HealthOK
	}
}

// ThresholdHealthReader derives a resource health from the threshold
// status of a repository sensor. With FillMetric the health string is also
// published as the discrete metric value.
type ThresholdHealthReader struct {
	BaseReader
	key sensorKey
}

// NewThresholdHealthReader returns a health reader for sensorNumber
func NewThresholdHealthReader(resource ResourceInstance, definition *MetricDefinition, fill Fill,
	sensorNumber, entityID, entityInstance uint8,
) *ThresholdHealthReader {
	fill |= FillHealth
	if fill&FillMetric != 0 && len(definition.DiscreteValues) == 0 {
		definition.DiscreteValues = []string{HealthOK.String(), HealthWarning.String(), HealthCritical.String()}
	}
	return &ThresholdHealthReader{
		BaseReader: NewBaseReader(resource, definition, fill),
		key:        sensorKey{number: sensorNumber, entityID: entityID, entityInstance: entityInstance},
	}
}

func (r *ThresholdHealthReader) TypeID() TypeID { return thresholdHealthTypeID }

func (r *ThresholdHealthReader) Info() string { return "Health of sensor " + sensorLabel(r.key.number) }

func (r *ThresholdHealthReader) CreateContext(ctrl ipmi.Controller, _ []Reader) (Context, error) {
	return NewSensorContext(ctrl)
}

func (r *ThresholdHealthReader) IsValid(ctx Context) bool {
	def, ok := r.key.lookup(ctx)
	return ok && def.Record.IsThreshold()
}

func (r *ThresholdHealthReader) Read(ctx Context, ctrl ipmi.Controller) (bool, error) {
	if _, ok := r.key.lookup(ctx); !ok {
		return false, errors.New().WithData(ErrContextType, r.Info())
	}
	resp, err := r.key.reading(ctrl)
	if err != nil {
		return false, err
	}
	if !resp.IsValidReading() {
		return r.ClearValue(), nil
	}

	health := HealthFromThresholds(resp.ThresholdStatus)
	changed := r.SetHealth(health)
	if r.FillsMetric() {
		changed = r.UpdateValue(Discrete(health.String())) || changed
	}
	return changed, nil
}
