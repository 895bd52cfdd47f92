package telemetry

import (
	"fmt"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
)

var arrayTypeID = NewTypeID()

// arrayContext has no controller state; every update refreshes its members
type arrayContext struct{}

func (arrayContext) Update() (bool, error) { return true, nil }

// ArrayReader replays a fixed sequence of values, one per read, wrapping
// around at the end. It never talks to the controller.
type ArrayReader struct {
	BaseReader
	values []Value
	pos    int
}

// NewArrayReader returns a reader replaying values
func NewArrayReader(resource ResourceInstance, definition *MetricDefinition, values ...Value) *ArrayReader {
	return &ArrayReader{
		BaseReader: NewBaseReader(resource, definition, FillMetric),
		values:     values,
	}
}

func (r *ArrayReader) TypeID() TypeID { return arrayTypeID }

func (r *ArrayReader) Info() string { return fmt.Sprintf("Array of %d values", len(r.values)) }

func (r *ArrayReader) CreateContext(ipmi.Controller, []Reader) (Context, error) {
	return arrayContext{}, nil
}

func (r *ArrayReader) IsValid(ctx Context) bool {
	_, ok := ctx.(arrayContext)
	return ok && len(r.values) > 0
}

func (r *ArrayReader) Read(Context, ipmi.Controller) (bool, error) {
	v := r.values[r.pos]
	r.pos = (r.pos + 1) % len(r.values)
	return r.UpdateValue(v), nil
}
