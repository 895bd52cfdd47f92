package exporter

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cpu0 = telemetry.IndexedResource(telemetry.ComponentProcessor, 0)

func numeric(v float64) telemetry.Metric {
	return telemetry.Metric{
		Resource: cpu0,
		Name:     "consumedPower",
		Path:     "/PowerConsumedWatts",
		Units:    "W",
		Value:    telemetry.Number(v),
		HasValue: true,
	}
}

func TestPublishNumeric(t *testing.T) {
	e := New(Config{})
	ctx := context.Background()

	require.NoError(t, e.Publish(ctx, []telemetry.Metric{numeric(120)}))
	require.NoError(t, e.Publish(ctx, []telemetry.Metric{numeric(130)}))

	g := e.values.WithLabelValues("Processor[0]", "consumedPower", "/PowerConsumedWatts", "W")
	assert.Equal(t, 130.0, testutil.ToFloat64(g))
	assert.Equal(t, 1, testutil.CollectAndCount(e.values))
}

func TestPublishAbsentRemovesSeries(t *testing.T) {
	e := New(Config{})
	ctx := context.Background()

	require.NoError(t, e.Publish(ctx, []telemetry.Metric{numeric(120)}))
	m := numeric(0)
	m.Value = telemetry.Absent()
	require.NoError(t, e.Publish(ctx, []telemetry.Metric{m}))

	assert.Equal(t, 0, testutil.CollectAndCount(e.values))
}

func TestPublishDiscreteAndHealth(t *testing.T) {
	e := New(Config{})
	ctx := context.Background()

	m := telemetry.Metric{
		Resource:  cpu0,
		Name:      "processorHealth",
		Value:     telemetry.Discrete("OK"),
		Health:    telemetry.HealthOK,
		HasValue:  true,
		HasHealth: true,
	}
	require.NoError(t, e.Publish(ctx, []telemetry.Metric{m}))

	m.Value = telemetry.Discrete("Critical")
	m.Health = telemetry.HealthCritical
	require.NoError(t, e.Publish(ctx, []telemetry.Metric{m}))

	assert.Equal(t, 1, testutil.CollectAndCount(e.states))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.states.WithLabelValues("Processor[0]", "processorHealth", "Critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.health.WithLabelValues("Processor[0]", "processorHealth")))

	m.Removed = true
	require.NoError(t, e.Publish(ctx, []telemetry.Metric{m}))
	assert.Equal(t, 0, testutil.CollectAndCount(e.states))
	assert.Equal(t, 0, testutil.CollectAndCount(e.health))
}

func TestObserverCounters(t *testing.T) {
	e := New(Config{})

	e.CycleCompleted(3)
	e.CycleCompleted(0)
	e.ContextUpdated(telemetry.NewTypeID(), true, nil)
	e.ContextUpdated(telemetry.NewTypeID(), false, nil)
	e.ContextUpdated(telemetry.NewTypeID(), false, assert.AnError)

	def := &telemetry.MetricDefinition{Name: "inletTemperature"}
	reader := telemetry.NewSensorReader(telemetry.Resource(telemetry.ComponentSystem), def, 0x9C, 0x07, 0)
	e.ReadFailed(reader, assert.AnError)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.cycles))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.changes))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.contextUpdates.WithLabelValues("refreshed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.contextUpdates.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.contextUpdates.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.readFailures.WithLabelValues("inletTemperature")))
}

func TestServeScrape(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Publish(context.Background(), []telemetry.Metric{numeric(120)}))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, listener) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, testTimeout, testTick)

	assert.Contains(t, string(body), `bmc_metric_value{metric="consumedPower",path="/PowerConsumedWatts",resource="Processor[0]",units="W"} 120`)

	cancel()
	assert.NoError(t, <-done)
}

func TestStartInvalidListen(t *testing.T) {
	e := New(Config{Listen: "not-an-address"})
	err := e.Start(context.Background())
	assert.Error(t, err)
}

func TestRunReportsListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	e := New(Config{Listen: taken.Addr().String()})
	select {
	case err := <-e.Run(context.Background()):
		assert.True(t, errors.HasCode(err, ErrInvalidListen))
	case <-time.After(testTimeout):
		t.Fatal("listen failure not reported")
	}
}

func TestRunClosesAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{Listen: "127.0.0.1:0"})
	done := e.Run(ctx)
	cancel()

	select {
	case err, ok := <-done:
		assert.NoError(t, err)
		assert.False(t, ok)
	case <-time.After(testTimeout):
		t.Fatal("exporter did not stop")
	}
}

const (
	testTimeout = 2 * time.Second
	testTick    = 10 * time.Millisecond
)
