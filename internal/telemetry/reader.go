package telemetry

import "time"

// Fill tells which parts of a resource a reader produces
type Fill uint8

const (
	FillMetric Fill = 1 << iota
	FillHealth
)

// BaseReader carries the state every reader variant shares. Variants embed
// it and produce values through UpdateValue, ClearValue and SetHealth.
type BaseReader struct {
	resource   ResourceInstance
	definition *MetricDefinition
	fill       Fill

	state     ReaderState
	validated bool
	excluded  bool

	next      time.Time
	scheduled bool
	toBeRead  bool

	value   Value
	health  Health
	samples samplesProcessor
	now     time.Time
}

// NewBaseReader returns the embedded state of a reader for resource
func NewBaseReader(resource ResourceInstance, definition *MetricDefinition, fill Fill) BaseReader {
	return BaseReader{
		resource:   resource,
		definition: definition,
		fill:       fill,
		toBeRead:   true,
	}
}

func (b *BaseReader) base() *BaseReader { return b }

func (b *BaseReader) Resource() ResourceInstance { return b.resource }

func (b *BaseReader) Definition() *MetricDefinition { return b.definition }

func (b *BaseReader) Value() Value { return b.value }

func (b *BaseReader) Health() Health { return b.health }

func (b *BaseReader) FillsMetric() bool { return b.fill&FillMetric != 0 }

func (b *BaseReader) FillsHealth() bool { return b.fill&FillHealth != 0 }

func (b *BaseReader) State() ReaderState { return b.state }

// NextUpdate returns the next due time, false until the first read was scheduled
func (b *BaseReader) NextUpdate() (time.Time, bool) {
	return b.next, b.scheduled
}

// Now is the time of the read in progress
func (b *BaseReader) Now() time.Time { return b.now }

// UpdateValue aggregates and rounds v, stores it and reports whether the
// stored value changed.
func (b *BaseReader) UpdateValue(v Value) bool {
	if b.definition != nil {
		if b.definition.HasCalculation() {
			v = b.samples.add(v, b.now, b.definition.CalculationAlgorithm, b.definition.CalculationTimeInterval)
		}
		v = roundToPrecision(v, b.definition.CalculationPrecision)
	}

	changed := v != b.value
	b.value = v
	b.syncState()
	return changed
}

// ClearValue drops the value, the health and the sample history.
// It reports a change only when something was present.
func (b *BaseReader) ClearValue() bool {
	changed := !b.value.IsAbsent() || b.health.IsSet()
	b.samples.reset()
	b.value = Absent()
	b.health = HealthUnset
	b.syncState()
	return changed
}

// SetHealth stores h and reports whether it changed
func (b *BaseReader) SetHealth(h Health) bool {
	changed := h != b.health
	b.health = h
	b.syncState()
	return changed
}

func (b *BaseReader) syncState() {
	if !b.validated {
		return
	}
	if b.value.IsAbsent() && !b.health.IsSet() {
		b.state = StateValueNotPresent
		return
	}
	b.state = StateValueRead
}

func (b *BaseReader) markValid() {
	b.validated = true
	b.syncState()
}

func (b *BaseReader) due(now time.Time) bool {
	return !b.scheduled || !now.Before(b.next)
}

// advance moves the next due time by whole periods until it is after now
func (b *BaseReader) advance(now time.Time, period time.Duration) {
	if !b.scheduled {
		b.next = now.Add(period)
		b.scheduled = true
		return
	}
	if now.Before(b.next) {
		return
	}
	periods := now.Sub(b.next)/period + 1
	b.next = b.next.Add(periods * period)
}
