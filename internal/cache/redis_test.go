package cache_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/cache"
	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cpu1  = telemetry.IndexedResource(telemetry.ComponentProcessor, 1)
)

func healthMetric() telemetry.Metric {
	return telemetry.Metric{
		Resource:  cpu1,
		Name:      "processorHealth",
		Value:     telemetry.Discrete("Warning"),
		Health:    telemetry.HealthWarning,
		HasValue:  true,
		HasHealth: true,
		Timestamp: epoch,
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "bmctelemetry:Processor[1]", cache.Key(cpu1))
	assert.Equal(t, "bmctelemetry:Chassis", cache.Key(telemetry.Resource(telemetry.ComponentChassis)))
}

func TestEntryEncoding(t *testing.T) {
	data, err := json.Marshal(cache.NewEntry(healthMetric()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"Warning","health":"Warning","timestamp":"2024-06-01T12:00:00Z"}`, string(data))

	m := healthMetric()
	m.HasValue = false
	m.HasHealth = false
	data, err = json.Marshal(cache.NewEntry(m))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":null,"timestamp":"2024-06-01T12:00:00Z"}`, string(data))
}

func TestConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := cache.NewRedisCache(ctx, cache.Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, cache.ErrConnect))
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable))
}

func TestPublishSnapshot(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	c, err := cache.NewRedisCache(ctx, cache.Config{Addr: addr, DB: 15, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	power := telemetry.Metric{
		Resource:  cpu1,
		Name:      "consumedPower",
		Units:     "W",
		Value:     telemetry.Number(96),
		HasValue:  true,
		Timestamp: epoch,
	}
	require.NoError(t, c.Publish(ctx, []telemetry.Metric{healthMetric(), power}))

	entries, err := c.Snapshot(ctx, cpu1)
	require.NoError(t, err)
	assert.Equal(t, telemetry.Number(96), entries["consumedPower"].Value)
	assert.Equal(t, "Warning", entries["processorHealth"].Health)
	assert.True(t, epoch.Equal(entries["consumedPower"].Timestamp))

	power.Removed = true
	require.NoError(t, c.Publish(ctx, []telemetry.Metric{power}))

	entries, err = c.Snapshot(ctx, cpu1)
	require.NoError(t, err)
	assert.NotContains(t, entries, "consumedPower")
	assert.Contains(t, entries, "processorHealth")
}
