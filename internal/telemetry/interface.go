package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
)

// TypeID groups readers sharing one Context
type TypeID int32

var lastTypeID atomic.Int32

// NewTypeID allocates a type id. Reader variants call it once at package init.
func NewTypeID() TypeID {
	return TypeID(lastTypeID.Add(1))
}

// ReaderState tracks the validation and value presence of a reader
type ReaderState uint8

const (
	StateNotValid ReaderState = iota
	StateValueNotPresent
	StateValueRead
)

func (s ReaderState) String() string {
	switch s {
	case StateValueNotPresent:
		return "ValueNotPresent"
	case StateValueRead:
		return "ValueRead"
	default:
		return "NotValid"
	}
}

// Context is the per type state shared by a group of readers
type Context interface {
	// Update refreshes the shared state. refreshed reports whether members
	// have fresh data to read.
	Update() (refreshed bool, err error)
}

// Reader produces the value of one metric for one resource
type Reader interface {
	TypeID() TypeID
	Info() string

	// CreateContext builds the Context of the reader's group. all holds every
	// reader handed to the processor.
	CreateContext(ctrl ipmi.Controller, all []Reader) (Context, error)
	IsValid(ctx Context) bool
	Read(ctx Context, ctrl ipmi.Controller) (changed bool, err error)

	Resource() ResourceInstance
	Definition() *MetricDefinition
	Value() Value
	Health() Health
	FillsMetric() bool
	FillsHealth() bool
	NextUpdate() (time.Time, bool)
	State() ReaderState

	base() *BaseReader
}

// Metric is a produced metric handed to sinks
type Metric struct {
	Resource  ResourceInstance
	Name      string
	Path      string
	Units     string
	Value     Value
	Health    Health
	HasValue  bool
	HasHealth bool
	Removed   bool // the reader is going away, sinks drop the metric
	Timestamp time.Time
}

// Sink receives the metrics changed during one processing cycle
type Sink interface {
	Publish(ctx context.Context, metrics []Metric) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, metrics []Metric) error

func (f SinkFunc) Publish(ctx context.Context, metrics []Metric) error {
	return f(ctx, metrics)
}

// Clock supplies the processor's notion of now
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
