package telemetry

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

var hubTypeID = NewTypeID()

// Conversion turns a raw hub value into engineering units
type Conversion uint8

const (
	ConversionNone Conversion = iota
	ConversionWatts
)

const wattsDivisor = 4096

func (c Conversion) apply(raw uint32) float64 {
	if c == ConversionWatts {
		return float64(raw) / wattsDivisor
	}
	return float64(raw)
}

// HubMetric is a hub metric and the conversion of its raw value
type HubMetric struct {
	ID         command.MetricID
	Conversion Conversion
}

// hubMember is implemented by readers contributing to the hub package
type hubMember interface {
	hubMetrics() []command.MetricID
}

// HubContext owns the package subscribed on the node manager for every hub
// metric in use. Each Update fetches all members in one round trip.
type HubContext struct {
	ctrl      ipmi.Controller
	bridge    ipmi.Bridge
	members   []command.MetricID
	packageID uint32
	reinit    bool
	readings  map[command.MetricID]uint32
	logger    logger.Logger
}

// NewHubContext finds a package with exactly members, creating it when absent
func NewHubContext(ctrl ipmi.Controller, bridge ipmi.Bridge, members []command.MetricID) (*HubContext, error) {
	c := &HubContext{
		ctrl:    ctrl,
		bridge:  bridge,
		members: members,
		logger:  logger.New("telemetry"),
	}
	if err := c.init(); err != nil {
		return nil, errors.New().Wrap(ErrContextCreate, err)
	}
	return c, nil
}

func (c *HubContext) init() error {
	var list command.GetPackageListResponse
	if err := c.ctrl.SendBridged(&command.GetPackageListRequest{}, c.bridge, &list); err != nil {
		return err
	}

	for _, pkg := range list.Packages {
		if sameMembers(pkg.Members, c.members) {
			c.packageID = pkg.ID
			c.reinit = false
			c.logger.Debug().Uint32("package", pkg.ID).Msg("Reusing telemetry hub package")
			return nil
		}
	}

	var created command.CreatePackageResponse
	if err := c.ctrl.SendBridged(&command.CreatePackageRequest{Members: c.members}, c.bridge, &created); err != nil {
		return err
	}
	c.packageID = created.PackageID
	c.reinit = false
	c.logger.Info().
		Uint32("package", created.PackageID).
		Int("members", len(c.members)).
		Msg("Created telemetry hub package")
	return nil
}

// sameMembers compares member sets, order is not significant
func sameMembers(a, b []command.MetricID) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[command.MetricID]int, len(a))
	for _, m := range a {
		counts[m]++
	}
	for _, m := range b {
		if counts[m] == 0 {
			return false
		}
		counts[m]--
	}
	return true
}

func (c *HubContext) fetch() ([]command.Reading, error) {
	var resp command.GetPackageReadingsResponse
	req := &command.GetPackageReadingsRequest{PackageID: c.packageID}
	if err := c.ctrl.SendBridged(req, c.bridge, &resp); err != nil {
		return nil, err
	}
	return resp.Readings, nil
}

// Update reads every member of the package
func (c *HubContext) Update() (bool, error) {
	errFactory := errors.New()
	c.readings = nil

	if c.reinit {
		if err := c.init(); err != nil {
			return false, errFactory.Wrap(ErrContextUpdate, err)
		}
	}

	readings, err := c.fetch()
	if ipmi.IsCompletionCode(err, command.CompletionInvalidPackage) {
		c.logger.Warn().Uint32("package", c.packageID).Msg("Telemetry hub package is stale, recreating")
		if err := c.init(); err != nil {
			c.reinit = true
			return false, errFactory.Wrap(ErrContextUpdate, err)
		}
		readings, err = c.fetch()
	}
	if ipmi.IsNodeBusy(err) {
		c.logger.Debug().Msg("Node manager busy, no readings")
		return false, nil
	}
	if err != nil {
		return false, errFactory.Wrap(ErrContextUpdate, err)
	}

	if len(readings) != len(c.members) {
		c.reinit = true
		return false, errFactory.WithData(ErrPackageMismatch,
			fmt.Sprintf("package %d: got %d readings, want %d", c.packageID, len(readings), len(c.members)))
	}

	values := make(map[command.MetricID]uint32, len(readings))
	for _, r := range readings {
		if _, dup := values[r.Metric]; dup || !c.Has(r.Metric) {
			c.reinit = true
			return false, errFactory.WithData(ErrPackageMismatch,
				fmt.Sprintf("package %d: unexpected reading for metric %s", c.packageID, r.Metric))
		}
		values[r.Metric] = r.Raw
	}
	c.readings = values
	return true, nil
}

// PackageID returns the package in use
func (c *HubContext) PackageID() uint32 { return c.packageID }

// Members returns the package members in subscription order
func (c *HubContext) Members() []command.MetricID { return c.members }

// Has reports whether id is a package member
func (c *HubContext) Has(id command.MetricID) bool {
	for _, m := range c.members {
		if m == id {
			return true
		}
	}
	return false
}

// Raw returns the last raw value of id, false when none is available
func (c *HubContext) Raw(id command.MetricID) (uint32, bool) {
	raw, ok := c.readings[id]
	if !ok || raw == command.NoReadingAvailable {
		return 0, false
	}
	return raw, true
}

func createHubContext(ctrl ipmi.Controller, all []Reader) (Context, error) {
	var members []command.MetricID
	seen := make(map[command.MetricID]bool)
	for _, r := range all {
		if r.TypeID() != hubTypeID {
			continue
		}
		m, ok := r.(hubMember)
		if !ok {
			continue
		}
		for _, id := range m.hubMetrics() {
			if !seen[id] {
				seen[id] = true
				members = append(members, id)
			}
		}
	}
	return NewHubContext(ctrl, ipmi.NodeManagerBridge, members)
}

// HubReader publishes one telemetry hub metric
type HubReader struct {
	BaseReader
	metric HubMetric
}

// NewHubReader returns a reader for metric
func NewHubReader(resource ResourceInstance, definition *MetricDefinition, metric HubMetric) *HubReader {
	return &HubReader{
		BaseReader: NewBaseReader(resource, definition, FillMetric),
		metric:     metric,
	}
}

func (r *HubReader) TypeID() TypeID { return hubTypeID }

func (r *HubReader) Info() string { return "Hub metric " + r.metric.ID.String() }

func (r *HubReader) hubMetrics() []command.MetricID {
	return []command.MetricID{r.metric.ID}
}

func (r *HubReader) CreateContext(ctrl ipmi.Controller, all []Reader) (Context, error) {
	return createHubContext(ctrl, all)
}

func (r *HubReader) IsValid(ctx Context) bool {
	hc, ok := ctx.(*HubContext)
	return ok && hc.Has(r.metric.ID)
}

func (r *HubReader) current(ctx Context) (Value, error) {
	hc, ok := ctx.(*HubContext)
	if !ok {
		return Absent(), errors.New().WithData(ErrContextType, r.Info())
	}
	if !hc.Has(r.metric.ID) {
		return Absent(), errors.New().WithData(ErrMetricMissing, r.Info())
	}
	raw, ok := hc.Raw(r.metric.ID)
	if !ok {
		return Absent(), nil
	}
	return Number(r.metric.Conversion.apply(raw)), nil
}

func (r *HubReader) Read(ctx Context, _ ipmi.Controller) (bool, error) {
	v, err := r.current(ctx)
	if err != nil {
		return false, err
	}
	return r.UpdateValue(v), nil
}

// Aggregation folds the constituents of an aggregated reader
type Aggregation uint8

const (
	AggregateSum Aggregation = iota
)

func (a Aggregation) String() string {
	if a == AggregateSum {
		return "sum"
	}
	return fmt.Sprintf("Aggregation(%d)", uint8(a))
}

// HubAggregatedReader publishes the fold of several hub metrics
type HubAggregatedReader struct {
	BaseReader
	operation Aggregation
	subs      []*HubReader
}

// NewHubAggregatedReader returns a reader folding metrics with operation
func NewHubAggregatedReader(resource ResourceInstance, definition *MetricDefinition, operation Aggregation,
	metrics ...HubMetric,
) *HubAggregatedReader {
	r := &HubAggregatedReader{
		BaseReader: NewBaseReader(resource, definition, FillMetric),
		operation:  operation,
	}
	for _, m := range metrics {
		r.subs = append(r.subs, NewHubReader(resource, &MetricDefinition{Name: definition.Name}, m))
	}
	return r
}

func (r *HubAggregatedReader) TypeID() TypeID { return hubTypeID }

func (r *HubAggregatedReader) Info() string {
	ids := make([]string, 0, len(r.subs))
	for _, s := range r.subs {
		ids = append(ids, s.metric.ID.String())
	}
	return fmt.Sprintf("Hub %s of %s", r.operation, strings.Join(ids, ","))
}

func (r *HubAggregatedReader) hubMetrics() []command.MetricID {
	ids := make([]command.MetricID, 0, len(r.subs))
	for _, s := range r.subs {
		ids = append(ids, s.metric.ID)
	}
	return ids
}

func (r *HubAggregatedReader) CreateContext(ctrl ipmi.Controller, all []Reader) (Context, error) {
	return createHubContext(ctrl, all)
}

func (r *HubAggregatedReader) IsValid(ctx Context) bool {
	if len(r.subs) == 0 {
		return false
	}
	for _, s := range r.subs {
		if !s.IsValid(ctx) {
			return false
		}
	}
	return true
}

func (r *HubAggregatedReader) Read(ctx Context, _ ipmi.Controller) (bool, error) {
	var total float64
	for _, s := range r.subs {
		v, err := s.current(ctx)
		if err != nil {
			return false, err
		}
		f, ok := v.Float()
		if !ok {
			return r.UpdateValue(Absent()), nil
		}
		total += f
	}
	return r.UpdateValue(Number(total)), nil
}
