package telemetry_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	batches [][]telemetry.Metric
	err     error
}

func (s *recordingSink) Publish(_ context.Context, metrics []telemetry.Metric) error {
	s.batches = append(s.batches, metrics)
	return s.err
}

func TestConfigureDefaults(t *testing.T) {
	shared := &telemetry.MetricDefinition{Name: "sledInletTemperature"}
	zero := time.Duration(0)
	explicit := &telemetry.MetricDefinition{Name: "sledOutletTemperature", SensingInterval: &zero}
	readers := []telemetry.Reader{inlet(shared), inlet(shared), inlet(explicit)}

	telemetry.Configure(readers, telemetry.Settings{
		DefaultInterval: "PT30S",
		ShoreUpPeriod:   5,
		Metrics: map[string]map[string]any{
			"sledinlettemperature": {"calculationPrecision": 0.5},
		},
	})

	assert.Equal(t, 30*time.Second, shared.SensingPeriod())
	assert.Equal(t, 5*time.Second, shared.ShoreUpPeriod)
	assert.Equal(t, 0.5, shared.CalculationPrecision)
	assert.Equal(t, time.Duration(0), explicit.SensingPeriod())
}

func TestConfigureFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{name: "zero", raw: "PT0S"},
		{name: "zero seconds", raw: 0},
		{name: "unparsable", raw: "soon"},
		{name: "unset", raw: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &telemetry.MetricDefinition{Name: "m"}
			telemetry.Configure([]telemetry.Reader{inlet(def)}, telemetry.Settings{DefaultInterval: tt.raw})
			assert.Equal(t, 10*time.Second, def.SensingPeriod())
		})
	}
}

func TestConfigureIgnoresBadOverrides(t *testing.T) {
	def := &telemetry.MetricDefinition{Name: "m"}
	telemetry.Configure([]telemetry.Reader{inlet(def)}, telemetry.Settings{
		Metrics: map[string]map[string]any{
			"m":       {"calculationAlgorithm": "median", "sensingInterval": "PT2S"},
			"unknown": {"sensingInterval": "PT1S"},
		},
	})
	assert.Equal(t, 2*time.Second, def.SensingPeriod())
	assert.Equal(t, telemetry.CalculationNone, def.CalculationAlgorithm)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, telemetry.DefaultSettings().Validate())

	err := telemetry.Settings{DefaultInterval: "ten"}.Validate()
	assert.True(t, errors.HasCode(err, telemetry.ErrInvalidConfig))
}

func TestProcessAllMetricsPublishes(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	failing := &recordingSink{err: errors.New().New(telemetry.ErrPublish)}
	sink := &recordingSink{}

	value := &telemetry.MetricDefinition{Name: "sledInletTemperature", Path: "/ReadingCelsius", Units: "Celsius"}
	health := &telemetry.MetricDefinition{Name: "powerSupplyHealth", Path: "/Health"}
	readers := []telemetry.Reader{
		inlet(value),
		telemetry.NewThresholdHealthReader(telemetry.Resource(telemetry.ComponentPowerZone), health, 0, 0x32, 0x14, 0x01),
	}

	svc, err := telemetry.NewService(ctrl, readers, telemetry.DefaultSettings(),
		[]telemetry.Sink{failing, sink}, telemetry.WithClock(clock))
	require.NoError(t, err)

	metrics := svc.ProcessAllMetrics(context.Background())
	require.Len(t, metrics, 2)
	require.Len(t, sink.batches, 1)
	assert.Len(t, failing.batches, 1)

	temp := sink.batches[0][0]
	assert.Equal(t, "ThermalZone", temp.Resource.String())
	assert.Equal(t, "/ReadingCelsius", temp.Path)
	assert.Equal(t, "Celsius", temp.Units)
	assert.True(t, temp.HasValue)
	assert.False(t, temp.HasHealth)
	assert.Equal(t, telemetry.Number(50), temp.Value)
	assert.Equal(t, epoch, temp.Timestamp)

	psu := sink.batches[0][1]
	assert.False(t, psu.HasValue)
	assert.True(t, psu.HasHealth)
	assert.Equal(t, telemetry.HealthWarning, psu.Health)

	// nothing due, nothing published
	assert.Nil(t, svc.ProcessAllMetrics(context.Background()))
	assert.Len(t, sink.batches, 1)

	next, ok := svc.EarliestUpdateTime()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(10*time.Second), next)
	assert.Len(t, svc.Readers(), 2)
}

func TestServiceClose(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	sink := &recordingSink{}
	def := &telemetry.MetricDefinition{Name: "sledInletTemperature"}
	svc, err := telemetry.NewService(ctrl, []telemetry.Reader{inlet(def)}, telemetry.DefaultSettings(),
		[]telemetry.Sink{sink}, telemetry.WithClock(newFakeClock()))
	require.NoError(t, err)

	svc.ProcessAllMetrics(context.Background())
	require.NoError(t, svc.Close(context.Background()))

	require.Len(t, sink.batches, 2)
	require.Len(t, sink.batches[1], 1)
	assert.True(t, sink.batches[1][0].Removed)
}

func TestSinkFunc(t *testing.T) {
	var got int
	sink := telemetry.SinkFunc(func(_ context.Context, metrics []telemetry.Metric) error {
		got = len(metrics)
		return nil
	})
	require.NoError(t, sink.Publish(context.Background(), make([]telemetry.Metric, 3)))
	assert.Equal(t, 3, got)
}
