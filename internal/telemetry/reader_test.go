package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase(def *MetricDefinition) *BaseReader {
	b := NewBaseReader(Resource(ComponentSystem), def, FillMetric)
	b.markValid()
	return &b
}

func TestUpdateValueDedup(t *testing.T) {
	b := validBase(&MetricDefinition{Name: "m"})
	assert.Equal(t, StateValueNotPresent, b.State())

	assert.False(t, b.UpdateValue(Absent()))
	assert.False(t, b.UpdateValue(Absent()))

	assert.True(t, b.UpdateValue(Number(3)))
	assert.Equal(t, StateValueRead, b.State())
	assert.False(t, b.UpdateValue(Number(3)))

	assert.True(t, b.UpdateValue(Absent()))
	assert.Equal(t, StateValueNotPresent, b.State())
}

func TestUpdateValuePrecision(t *testing.T) {
	b := validBase(&MetricDefinition{Name: "m", CalculationPrecision: 0.5})

	assert.True(t, b.UpdateValue(Number(4.1)))
	assert.Equal(t, Number(4), b.Value())

	// rounds to the same multiple, no change reported
	assert.False(t, b.UpdateValue(Number(3.9)))
	assert.True(t, b.UpdateValue(Number(4.3)))
	assert.Equal(t, Number(4.5), b.Value())
}

func TestUpdateValueUsesCurrentWindow(t *testing.T) {
	def := &MetricDefinition{
		Name:                    "m",
		CalculationAlgorithm:    MaximumDuringInterval,
		CalculationTimeInterval: 10 * time.Second,
	}
	b := validBase(def)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	b.now = start
	b.UpdateValue(Number(9))
	b.now = start.Add(5 * time.Second)
	b.UpdateValue(Number(1))
	assert.Equal(t, Number(9), b.Value())

	def.CalculationTimeInterval = 2 * time.Second
	b.now = start.Add(6 * time.Second)
	b.UpdateValue(Number(2))
	assert.Equal(t, Number(2), b.Value())
}

func TestClearValue(t *testing.T) {
	b := validBase(&MetricDefinition{Name: "m"})
	assert.False(t, b.ClearValue())

	b.UpdateValue(Number(1))
	b.SetHealth(HealthWarning)
	assert.True(t, b.ClearValue())
	assert.True(t, b.Value().IsAbsent())
	assert.Equal(t, HealthUnset, b.Health())
	assert.False(t, b.ClearValue())
}

func TestStateBeforeValidation(t *testing.T) {
	b := NewBaseReader(Resource(ComponentSystem), &MetricDefinition{Name: "m"}, FillMetric)
	b.UpdateValue(Number(1))
	assert.Equal(t, StateNotValid, b.State())
}

func TestAdvanceCatchUp(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var b BaseReader

	b.advance(start, 10*time.Second)
	next, ok := b.NextUpdate()
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Second), next)

	// a long stall skips the missed periods in one step
	now := start.Add(24*time.Hour + 3*time.Second)
	b.advance(now, 10*time.Second)
	next, _ = b.NextUpdate()
	assert.True(t, next.After(now))
	assert.Equal(t, time.Duration(0), next.Sub(start)%(10*time.Second))
	assert.LessOrEqual(t, next.Sub(now), 10*time.Second)

	// exactly on the due time moves to the following period
	b.advance(next, 10*time.Second)
	after, _ := b.NextUpdate()
	assert.Equal(t, next.Add(10*time.Second), after)
}
