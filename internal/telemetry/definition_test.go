package telemetry

import (
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want time.Duration
	}{
		{name: "iso8601", raw: "PT10S", want: 10 * time.Second},
		{name: "iso8601 minutes", raw: "PT1M30S", want: 90 * time.Second},
		{name: "seconds", raw: 5, want: 5 * time.Second},
		{name: "fractional seconds", raw: 0.5, want: 500 * time.Millisecond},
		{name: "zero", raw: "PT0S", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInterval(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseInterval("ten seconds")
	assert.True(t, errors.HasCode(err, ErrInvalidInterval))

	_, err = ParseInterval([]int{1})
	assert.True(t, errors.HasCode(err, ErrInvalidInterval))
}

func TestFormatInterval(t *testing.T) {
	d, err := ParseInterval(FormatInterval(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestParseCalculationAlgorithm(t *testing.T) {
	algo, err := ParseCalculationAlgorithm("AVERAGEOVERINTERVAL")
	require.NoError(t, err)
	assert.Equal(t, AverageOverInterval, algo)

	_, err = ParseCalculationAlgorithm("median")
	assert.True(t, errors.HasCode(err, ErrInvalidProperty))
}

func TestApplyProperties(t *testing.T) {
	def := &MetricDefinition{Name: "sledInletTemperature"}

	err := def.ApplyProperties(map[string]any{
		"sensinginterval":         "PT5S",
		"calculationAlgorithm":    "maximumDuringInterval",
		"calculationTimeInterval": 60,
		"calculationPrecision":    "0.5",
		"shoreUpPeriod":           "PT1M",
	})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, def.SensingPeriod())
	assert.Equal(t, MaximumDuringInterval, def.CalculationAlgorithm)
	assert.Equal(t, time.Minute, def.CalculationTimeInterval)
	assert.Equal(t, 0.5, def.CalculationPrecision)
	assert.Equal(t, time.Minute, def.ShoreUpPeriod)
	assert.True(t, def.HasCalculation())
}

func TestApplyPropertiesPartialFailure(t *testing.T) {
	def := &MetricDefinition{Name: "m"}

	err := def.ApplyProperties(map[string]any{
		"sensingInterval": "PT2S",
		"colour":          "blue",
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrUnknownProperty))
	assert.Equal(t, 2*time.Second, def.SensingPeriod())

	err = def.ApplyProperties(map[string]any{"calculationPrecision": -1})
	assert.True(t, errors.HasCode(err, ErrInvalidProperty))
	assert.Equal(t, 0.0, def.CalculationPrecision)
}

func TestSensingIntervalBackfill(t *testing.T) {
	def := &MetricDefinition{Name: "m"}
	assert.Equal(t, time.Duration(0), def.SensingPeriod())

	def.SetSensingIntervalIfUnset(10 * time.Second)
	def.SetSensingIntervalIfUnset(time.Second)
	assert.Equal(t, 10*time.Second, def.SensingPeriod())

	zero := time.Duration(0)
	configured := &MetricDefinition{Name: "z", SensingInterval: &zero}
	configured.SetSensingIntervalIfUnset(10 * time.Second)
	assert.Equal(t, time.Duration(0), configured.SensingPeriod())
}
