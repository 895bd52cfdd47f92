package platform_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/sim"
	"codeberg.org/mutker/bmctelemetry/internal/platform"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownPlatform(t *testing.T) {
	_, err := platform.Readers("grantley")
	assert.True(t, errors.HasCode(err, platform.ErrUnknownPlatform))
	assert.Contains(t, err.Error(), "Resource not found")
	assert.Equal(t, []string{"purley"}, platform.Names())
}

func TestPurleyDefinitionsShared(t *testing.T) {
	readers := platform.Purley()

	byName := make(map[string]*telemetry.MetricDefinition)
	resources := make(map[string]bool)
	for _, r := range readers {
		def := r.Definition()
		if prev, ok := byName[def.Name]; ok {
			assert.Same(t, prev, def, def.Name)
		}
		byName[def.Name] = def

		key := r.Resource().String() + def.Name
		assert.False(t, resources[key], "duplicate %s", key)
		resources[key] = true
	}

	for _, name := range []string{
		"sledInletTemperature", "sledOutletTemperature", "sledInputACPower",
		"processorAverageFrequency", "processorConsumedPower", "systemConsumedPower",
		"memoryConsumedPower", "systemProcessorBandwidth", "systemMemoryBandwidth",
		"systemIOBandwidth", "processorHealth", "memoryHealth", "systemHealth",
	} {
		assert.Contains(t, byName, name)
	}

	// every call allocates new definitions
	assert.NotSame(t, readers[0].Definition(), platform.Purley()[0].Definition())
}

func TestPurleyAgainstSimulator(t *testing.T) {
	ctrl, err := sim.Load("../../configs/purley-sim.yaml")
	require.NoError(t, err)

	readers, err := platform.Readers("purley")
	require.NoError(t, err)
	telemetry.Configure(readers, telemetry.DefaultSettings())

	p := telemetry.NewMetricsProcessor(ctrl, readers)
	changed := p.ReadAllMetrics()
	assert.Len(t, changed, len(readers))

	values := make(map[string]telemetry.Value)
	health := make(map[string]telemetry.Health)
	for _, r := range readers {
		assert.NotEqual(t, telemetry.StateNotValid, r.State(), r.Info())
		key := r.Resource().String() + "/" + r.Definition().Name
		values[key] = r.Value()
		health[key] = r.Health()
		assert.Equal(t, 10*time.Second, r.Definition().SensingPeriod())
	}

	assert.Equal(t, telemetry.Number(24), values["ThermalZone/sledInletTemperature"])
	assert.Equal(t, telemetry.Number(230), values["PowerZone/sledInputACPower"])
	assert.Equal(t, telemetry.Number(2100), values["Processor[0]/processorAverageFrequency"])
	assert.Equal(t, telemetry.Number(85), values["Processor[0]/processorConsumedPower"])
	assert.Equal(t, telemetry.Number(165), values["System/systemConsumedPower"])
	assert.Equal(t, telemetry.Number(29), values["System/memoryConsumedPower"])
	assert.Equal(t, telemetry.Number(260), values["Chassis/chassisInputACPower"])
	assert.Equal(t, telemetry.Number(42.5), values["System/systemProcessorBandwidth"])
	assert.Equal(t, telemetry.Number(6.4), values["System/systemIOBandwidth"])
	assert.Equal(t, telemetry.HealthOK, health["Processor[0]/processorHealth"])
	assert.Equal(t, telemetry.HealthWarning, health["Processor[1]/processorHealth"])
	assert.Equal(t, telemetry.Discrete("Warning"), values["Processor[1]/processorHealth"])
}
