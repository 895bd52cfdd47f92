package telemetry

import (
	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
)

var bandwidthTypeID = NewTypeID()

// BandwidthKind selects one field of the CUPS utilization data
type BandwidthKind uint8

const (
	BandwidthProcessor BandwidthKind = iota
	BandwidthMemory
	BandwidthIO
)

var bandwidthNames = map[BandwidthKind]string{
	BandwidthProcessor: "processor",
	BandwidthMemory:    "memory",
	BandwidthIO:        "io",
}

func (k BandwidthKind) String() string { return bandwidthNames[k] }

// BandwidthContext refreshes the node manager utilization counters
type BandwidthContext struct {
	ctrl   ipmi.Controller
	bridge ipmi.Bridge
	data   command.GetCUPSUtilizationResponse
	fresh  bool
}

// NewBandwidthContext returns a context reading through bridge
func NewBandwidthContext(ctrl ipmi.Controller, bridge ipmi.Bridge) *BandwidthContext {
	return &BandwidthContext{ctrl: ctrl, bridge: bridge}
}

// Update sends one Get CUPS Utilization. A busy node keeps the last data.
func (c *BandwidthContext) Update() (bool, error) {
	var resp command.GetCUPSUtilizationResponse
	err := c.ctrl.SendBridged(&command.GetCUPSUtilizationRequest{}, c.bridge, &resp)
	if ipmi.IsNodeBusy(err) {
		return false, nil
	}
	if err != nil {
		c.fresh = false
		return false, errors.New().Wrap(ErrContextUpdate, err)
	}
	c.data = resp
	c.fresh = true
	return true, nil
}

// Utilization returns the selected field, converted from hundredths
func (c *BandwidthContext) Utilization(kind BandwidthKind) (float64, bool) {
	if !c.fresh {
		return 0, false
	}
	var raw uint16
	switch kind {
	case BandwidthProcessor:
		raw = c.data.CPU
	case BandwidthMemory:
		raw = c.data.Memory
	case BandwidthIO:
		raw = c.data.IO
	default:
		return 0, false
	}
	return float64(raw) / 100, true
}

// BandwidthReader publishes one utilization figure
type BandwidthReader struct {
	BaseReader
	kind BandwidthKind
}

// NewBandwidthReader returns a reader for kind
func NewBandwidthReader(resource ResourceInstance, definition *MetricDefinition, kind BandwidthKind) *BandwidthReader {
	return &BandwidthReader{
		BaseReader: NewBaseReader(resource, definition, FillMetric),
		kind:       kind,
	}
}

func (r *BandwidthReader) TypeID() TypeID { return bandwidthTypeID }

func (r *BandwidthReader) Info() string { return "Bandwidth " + r.kind.String() }

func (r *BandwidthReader) CreateContext(ctrl ipmi.Controller, _ []Reader) (Context, error) {
	return NewBandwidthContext(ctrl, ipmi.NodeManagerBridge), nil
}

func (r *BandwidthReader) IsValid(ctx Context) bool {
	_, ok := ctx.(*BandwidthContext)
	return ok
}

func (r *BandwidthReader) Read(ctx Context, _ ipmi.Controller) (bool, error) {
	bc, ok := ctx.(*BandwidthContext)
	if !ok {
		return false, errors.New().WithData(ErrContextType, r.Info())
	}
	v, ok := bc.Utilization(r.kind)
	if !ok {
		return r.UpdateValue(Absent()), nil
	}
	return r.UpdateValue(Number(v)), nil
}
