package telemetry_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi/sim"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newSim(t *testing.T, fixture string) *sim.Controller {
	t.Helper()
	f, err := sim.ParseFixture([]byte(fixture))
	require.NoError(t, err)
	return sim.New(f)
}

func every(d time.Duration) *time.Duration { return &d }

const sensorFixture = `
sdr:
  - sensor: 0x9C
    entity_id: 0x07
    entity_instance: 0x00
    name: Inlet Temp
    m: 1
  - sensor: 0x9D
    entity_id: 0x07
    entity_instance: 0x00
    name: Outlet Temp
    m: 2
    b: 5
    b_exp: 1
    r_exp: -1
  - sensor: 0x32
    entity_id: 0x14
    entity_instance: 0x01
    name: PS1 Input Power
    m: 1
  - sensor: 0x40
    compact: true
    entity_id: 0x03
    name: CPU Health
    discrete: true
sensors:
  0x9C:
    reading: 50
  0x9D:
    reading: 100
  0x32:
    reading: 100
    threshold_status: 0x08
  0x40:
    unavailable: true
`

// hubFixture ends inside the hub mapping so tests can append hub keys
const hubFixture = `
cups:
  cpu: 2500
  memory: 1250
  io: 300
hub:
  metrics:
    0x0200: 49152
    0x0201: 30720
    0x0100: 2400
`
