package telemetry_test

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/sim"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func temperature(interval time.Duration) *telemetry.MetricDefinition {
	return &telemetry.MetricDefinition{
		Name:            "sledInletTemperature",
		Path:            "/ReadingCelsius",
		Units:           "Celsius",
		SensingInterval: every(interval),
	}
}

func inlet(def *telemetry.MetricDefinition) *telemetry.SensorReader {
	return telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentThermalZone), def, 0x9C, 0x07, 0x00)
}

func TestSensorReading(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	r := inlet(temperature(10 * time.Second))

	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(clock))
	changed := p.ReadAllMetrics()

	require.Len(t, changed, 1)
	assert.Equal(t, telemetry.Number(50), r.Value())
	assert.Equal(t, telemetry.StateValueRead, r.State())

	// reserve, four records, one reading
	assert.Equal(t, 1+4+1, ctrl.RoundTrips())
}

func TestSensorConversion(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	def := temperature(time.Second)
	r := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentThermalZone), def, 0x9D, 0x07, 0x00)

	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(newFakeClock()))
	p.ReadAllMetrics()

	f, ok := r.Value().Float()
	require.True(t, ok)
	assert.InDelta(t, 25.0, f, 1e-9)
}

func TestNonLinearSensorConversion(t *testing.T) {
	ctrl := newSim(t, `
sdr:
  - sensor: 0x9E
    entity_id: 0x07
    entity_instance: 0x00
    name: Exhaust Temp
    m: 2
    b: 10
    non_linear: true
sensors:
  0x9E:
    reading: 50
`)
	r := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentThermalZone), temperature(time.Second), 0x9E, 0x07, 0x00)

	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(newFakeClock()))
	p.ReadAllMetrics()

	assert.Equal(t, telemetry.Number(110), r.Value())
}

func TestIdempotentWithinPeriod(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	r := inlet(temperature(10 * time.Second))
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(clock))

	p.ReadAllMetrics()
	trips := ctrl.RoundTrips()

	clock.Advance(9 * time.Second)
	assert.Empty(t, p.ReadAllMetrics())
	assert.Equal(t, trips, ctrl.RoundTrips())
}

func TestUnchangedValueNotReported(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	r := inlet(temperature(10 * time.Second))
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(clock))

	require.Len(t, p.ReadAllMetrics(), 1)

	clock.Advance(10 * time.Second)
	assert.Empty(t, p.ReadAllMetrics())
	assert.Equal(t, 2, ctrl.Calls(ipmi.NetFnSensorEvent, command.CmdGetSensorReading))

	ctrl.SetSensor(0x9C, sim.SensorState{Reading: 51})
	clock.Advance(10 * time.Second)
	assert.Len(t, p.ReadAllMetrics(), 1)
	assert.Equal(t, telemetry.Number(51), r.Value())
}

func TestCatchUpAfterStall(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	r := inlet(temperature(10 * time.Second))
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(clock))

	p.ReadAllMetrics()
	clock.Advance(72*time.Hour + 3*time.Second)
	p.ReadAllMetrics()

	assert.Equal(t, 2, ctrl.Calls(ipmi.NetFnSensorEvent, command.CmdGetSensorReading))

	next, ok := r.NextUpdate()
	require.True(t, ok)
	assert.True(t, next.After(clock.Now()))
	assert.Equal(t, time.Duration(0), next.Sub(epoch)%(10*time.Second))
}

func TestZeroSensingInterval(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	ctrl := newSim(t, sensorFixture)
	r := inlet(temperature(0))
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(newFakeClock()))

	for i := 0; i < 3; i++ {
		assert.Empty(t, p.ReadAllMetrics())
	}

	assert.Equal(t, 1, strings.Count(buf.String(), "No sensing interval"))
	assert.Zero(t, ctrl.RoundTrips())
	_, ok := p.EarliestUpdateTime()
	assert.False(t, ok)
}

func TestInvalidReaderExcluded(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	def := temperature(10 * time.Second)

	good := inlet(def)
	wrongEntity := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentThermalZone), def, 0x9C, 0x07, 0x01)
	missing := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentThermalZone), def, 0x77, 0x07, 0x00)

	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{good, wrongEntity, missing}, telemetry.WithClock(clock))
	changed := p.ReadAllMetrics()

	require.Len(t, changed, 1)
	assert.Same(t, good, changed[0])
	assert.Equal(t, telemetry.StateNotValid, wrongEntity.State())
	assert.Equal(t, telemetry.StateNotValid, missing.State())
	assert.Equal(t, 1, ctrl.Calls(ipmi.NetFnSensorEvent, command.CmdGetSensorReading))

	clock.Advance(10 * time.Second)
	p.ReadAllMetrics()
	assert.Equal(t, 2, ctrl.Calls(ipmi.NetFnSensorEvent, command.CmdGetSensorReading))
}

func TestContextCreationRetried(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	ctrl.Fail(sim.Failure{
		NetFn:          ipmi.NetFnStorage,
		Command:        command.CmdReserveSDRRepo,
		CompletionCode: ipmi.CompletionTimeout,
		Count:          1,
	})
	r := inlet(temperature(10 * time.Second))
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(newFakeClock()))

	assert.Empty(t, p.ReadAllMetrics())
	assert.Equal(t, telemetry.StateNotValid, r.State())

	assert.Len(t, p.ReadAllMetrics(), 1)
	assert.Equal(t, telemetry.Number(50), r.Value())
	assert.Equal(t, 2, ctrl.Calls(ipmi.NetFnStorage, command.CmdReserveSDRRepo))
}

func TestReadFailureClearsValue(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	def := temperature(10 * time.Second)
	r := inlet(def)
	sibling := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentPowerZone), def, 0x32, 0x14, 0x01)
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r, sibling}, telemetry.WithClock(clock))

	require.Len(t, p.ReadAllMetrics(), 2)

	ctrl.SetSensor(0x32, sim.SensorState{Reading: 120})
	ctrl.Fail(sim.Failure{
		NetFn:          ipmi.NetFnSensorEvent,
		Command:        command.CmdGetSensorReading,
		CompletionCode: ipmi.CompletionTimeout,
		Count:          1,
	})
	clock.Advance(10 * time.Second)
	changed := p.ReadAllMetrics()

	assert.Len(t, changed, 2)
	assert.True(t, r.Value().IsAbsent())
	assert.Equal(t, telemetry.StateValueNotPresent, r.State())
	assert.Equal(t, telemetry.Number(120), sibling.Value())
}

func TestUnavailableReading(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	def := &telemetry.MetricDefinition{Name: "cpuSensor", SensingInterval: every(time.Second)}
	r := telemetry.NewSensorReader(telemetry.IndexedResource(telemetry.ComponentProcessor, 0), def, 0x40, 0x03, 0x00)
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{r}, telemetry.WithClock(clock))

	assert.Empty(t, p.ReadAllMetrics())
	assert.True(t, r.Value().IsAbsent())
	assert.Equal(t, telemetry.StateValueNotPresent, r.State())

	ctrl.SetSensor(0x40, sim.SensorState{Reading: 3})
	clock.Advance(time.Second)
	assert.Len(t, p.ReadAllMetrics(), 1)
	assert.Equal(t, telemetry.Number(3), r.Value())
}

func TestEarliestUpdateTime(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	clock := newFakeClock()
	fast := inlet(temperature(5 * time.Second))
	slow := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentPowerZone),
		&telemetry.MetricDefinition{Name: "power", SensingInterval: every(time.Minute)}, 0x32, 0x14, 0x01)
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{slow, fast}, telemetry.WithClock(clock))

	at, ok := p.EarliestUpdateTime()
	require.True(t, ok)
	assert.Equal(t, clock.Now(), at)

	p.ReadAllMetrics()
	at, ok = p.EarliestUpdateTime()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(5*time.Second), at)
}

func TestGroupsInFirstAppearanceOrder(t *testing.T) {
	ctrl := newSim(t, sensorFixture+hubFixture)
	clock := newFakeClock()
	power := &telemetry.MetricDefinition{Name: "processorConsumedPower", SensingInterval: every(time.Second)}

	hub := telemetry.NewHubReader(telemetry.IndexedResource(telemetry.ComponentProcessor, 0), power,
		telemetry.HubMetric{ID: command.MetricID{ID: 0x0200}, Conversion: telemetry.ConversionWatts})
	sensor := inlet(temperature(time.Second))

	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{hub, sensor}, telemetry.WithClock(clock))
	changed := p.ReadAllMetrics()

	require.Len(t, changed, 2)
	assert.Same(t, hub, changed[0])
	assert.Same(t, sensor, changed[1])
}

type countingObserver struct {
	cycles, updates, failures int
}

func (o *countingObserver) CycleCompleted(int) { o.cycles++ }

func (o *countingObserver) ContextUpdated(telemetry.TypeID, bool, error) { o.updates++ }

func (o *countingObserver) ReadFailed(telemetry.Reader, error) { o.failures++ }

func TestObserver(t *testing.T) {
	ctrl := newSim(t, sensorFixture)
	obs := &countingObserver{}
	clock := newFakeClock()
	p := telemetry.NewMetricsProcessor(ctrl, []telemetry.Reader{inlet(temperature(time.Second))},
		telemetry.WithClock(clock), telemetry.WithObserver(obs))

	p.ReadAllMetrics()
	ctrl.Fail(sim.Failure{NetFn: ipmi.NetFnSensorEvent, Command: command.CmdGetSensorReading, CompletionCode: ipmi.CompletionTimeout})
	clock.Advance(time.Second)
	p.ReadAllMetrics()

	assert.Equal(t, 2, obs.cycles)
	assert.Equal(t, 2, obs.updates)
	assert.Equal(t, 1, obs.failures)
}
