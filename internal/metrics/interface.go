package metrics

import (
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

// Collector is the metric history sink handed to the telemetry service
type Collector interface {
	telemetry.Sink
	Close() error
}

// Repository defines the interface for metric history storage
type Repository interface {
	Record(samples []Sample) error
	History(resource, name string, limit int) ([]Sample, error)
	Close() error
}

// Sample is one stored metric change
type Sample struct {
	Timestamp time.Time
	Resource  string
	Name      string
	Path      string
	Units     string
	Value     telemetry.Value
	Health    string
	Removed   bool
}

// SampleFromMetric flattens a published metric into a history row
func SampleFromMetric(m telemetry.Metric) Sample {
	s := Sample{
		Timestamp: m.Timestamp,
		Resource:  m.Resource.String(),
		Name:      m.Name,
		Path:      m.Path,
		Units:     m.Units,
		Removed:   m.Removed,
	}
	if m.HasValue {
		s.Value = m.Value
	}
	if m.HasHealth {
		s.Health = m.Health.String()
	}
	return s
}
