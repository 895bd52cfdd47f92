// Package sim implements an ipmi.Controller answering the telemetry commands
// from an in-memory fixture.
package sim

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

type commandKey struct {
	netFn   uint8
	command uint8
}

type handler func(c *Controller, data []byte) ([]byte, uint8, error)

var handlers = map[commandKey]handler{
	{ipmi.NetFnSensorEvent, command.CmdGetSensorReading}: (*Controller).getSensorReading,
	{ipmi.NetFnStorage, command.CmdReserveSDRRepo}:       (*Controller).reserveSDR,
	{ipmi.NetFnStorage, command.CmdGetSDR}:               (*Controller).getSDR,
	{ipmi.NetFnOEMGroup, command.CmdGetPackageList}:      (*Controller).getPackageList,
	{ipmi.NetFnOEMGroup, command.CmdCreatePackage}:       (*Controller).createPackage,
	{ipmi.NetFnOEMGroup, command.CmdGetPackageReadings}:  (*Controller).getPackageReadings,
	{ipmi.NetFnOEMGroup, command.CmdGetCUPSData}:         (*Controller).getCUPS,
}

// Controller is a simulated management controller
type Controller struct {
	mu sync.Mutex

	records     []command.SDRRecord
	truncate    []int
	sensors     map[uint8]SensorState
	hubMetrics  map[uint16]uint32
	packages    []command.Package
	nextPackage uint32
	staleOnce   bool
	cups        CUPSState
	failures    []Failure

	reservation uint16
	roundTrips  int
	calls       map[commandKey]int
	log         logger.Logger
}

var _ ipmi.Controller = (*Controller)(nil)

// New builds a controller serving the fixture
func New(f *Fixture) *Controller {
	c := &Controller{
		sensors:     make(map[uint8]SensorState, len(f.Sensors)),
		hubMetrics:  make(map[uint16]uint32, len(f.Hub.Metrics)),
		nextPackage: 1,
		staleOnce:   f.Hub.StaleOnce,
		cups:        f.CUPS,
		failures:    append([]Failure(nil), f.Fail...),
		calls:       make(map[commandKey]int),
		log:         logger.New("sim"),
	}

	for i, entry := range f.SDR {
		id := entry.RecordID
		if id == 0 {
			id = uint16(i + 1)
		}
		c.records = append(c.records, entry.record(id))
		c.truncate = append(c.truncate, entry.Truncate)
	}
	for n, s := range f.Sensors {
		c.sensors[n] = s
	}
	for id, raw := range f.Hub.Metrics {
		c.hubMetrics[id] = raw
	}
	for _, p := range f.Hub.Packages {
		pkg := command.Package{ID: p.ID}
		for _, m := range p.Members {
			pkg.Members = append(pkg.Members, command.MetricID{ID: m.ID, MeasureType: command.MeasureType(m.MeasureType)})
		}
		c.packages = append(c.packages, pkg)
		if p.ID >= c.nextPackage {
			c.nextPackage = p.ID + 1
		}
	}

	return c
}

// Load reads a fixture file and builds a controller from it
func Load(path string) (*Controller, error) {
	f, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

func (c *Controller) Send(req ipmi.Request, resp ipmi.Response) error {
	return c.exchange(req, nil, resp)
}

func (c *Controller) SendBridged(req ipmi.Request, bridge ipmi.Bridge, resp ipmi.Response) error {
	return c.exchange(req, &bridge, resp)
}

func (c *Controller) exchange(req ipmi.Request, bridge *ipmi.Bridge, resp ipmi.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := commandKey{req.NetFn(), req.Command()}
	c.roundTrips++
	c.calls[key]++

	event := c.log.Debug().
		Str("netfn", fmt.Sprintf("0x%02x", key.netFn)).
		Str("cmd", fmt.Sprintf("0x%02x", key.command))
	if bridge != nil {
		event = event.Str("bridge", bridge.String())
	}
	event.Msg("request")

	if code, ok := c.injectedFailure(key); ok {
		return ipmi.NewCompletionCodeError(req, code)
	}

	h, ok := handlers[key]
	if !ok {
		return ipmi.NewCompletionCodeError(req, ipmi.CompletionInvalidCommand)
	}

	data, code, err := h(c, req.Pack())
	if err != nil {
		return errors.New().Wrap(ipmi.ErrTransport, err)
	}
	if code != ipmi.CompletionOK {
		return ipmi.NewCompletionCodeError(req, code)
	}

	return resp.Unpack(data)
}

func (c *Controller) injectedFailure(key commandKey) (uint8, bool) {
	for i := range c.failures {
		f := &c.failures[i]
		if f.NetFn != key.netFn || f.Command != key.command || f.Count < 0 {
			continue
		}
		code := f.CompletionCode
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				f.Count = -1
			}
		}
		return code, true
	}
	return 0, false
}

func (c *Controller) getSensorReading(data []byte) ([]byte, uint8, error) {
	if len(data) < 1 {
		return nil, ipmi.CompletionDataLength, nil
	}
	s, ok := c.sensors[data[0]]
	if !ok {
		return nil, ipmi.CompletionNotPresent, nil
	}

	resp := command.GetSensorReadingResponse{Reading: s.Reading, Flags: 0x40, ThresholdStatus: s.Threshold}
	if s.Unavailable {
		resp.Flags |= 0x20
	}
	return resp.Pack(), ipmi.CompletionOK, nil
}

func (c *Controller) reserveSDR(_ []byte) ([]byte, uint8, error) {
	c.reservation++
	resp := command.ReserveSDRRepositoryResponse{ReservationID: c.reservation}
	return resp.Pack(), ipmi.CompletionOK, nil
}

func (c *Controller) getSDR(data []byte) ([]byte, uint8, error) {
	req, err := command.UnpackGetSDRRequest(data)
	if err != nil {
		return nil, ipmi.CompletionDataLength, nil
	}
	if req.ReservationID != c.reservation {
		return nil, ipmi.CompletionReservation, nil
	}
	if len(c.records) == 0 {
		return nil, ipmi.CompletionNotPresent, nil
	}

	idx := -1
	if req.RecordID == command.SDRFirstRecordID {
		idx = 0
	} else {
		for i, rec := range c.records {
			if rec.RecordID == req.RecordID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return nil, ipmi.CompletionNotPresent, nil
	}

	next := command.SDRLastRecordID
	if idx+1 < len(c.records) {
		next = c.records[idx+1].RecordID
	}

	record := c.records[idx].Marshal()
	if n := c.truncate[idx]; n > 0 && n < len(record) {
		record = record[:n]
	}

	resp := command.GetSDRResponse{NextRecordID: next, RecordData: record}
	return resp.Pack(), ipmi.CompletionOK, nil
}

func (c *Controller) getPackageList(_ []byte) ([]byte, uint8, error) {
	resp := command.GetPackageListResponse{Packages: c.packages}
	return resp.Pack(), ipmi.CompletionOK, nil
}

func (c *Controller) createPackage(data []byte) ([]byte, uint8, error) {
	req, err := command.UnpackCreatePackageRequest(data)
	if err != nil {
		return nil, 0, err
	}

	pkg := command.Package{ID: c.nextPackage, Members: req.Members}
	c.nextPackage++
	c.packages = append(c.packages, pkg)

	resp := command.CreatePackageResponse{PackageID: pkg.ID}
	return resp.Pack(), ipmi.CompletionOK, nil
}

func (c *Controller) getPackageReadings(data []byte) ([]byte, uint8, error) {
	req, err := command.UnpackGetPackageReadingsRequest(data)
	if err != nil {
		return nil, 0, err
	}

	if c.staleOnce {
		c.staleOnce = false
		c.packages = nil
	}

	for _, pkg := range c.packages {
		if pkg.ID != req.PackageID {
			continue
		}
		resp := command.GetPackageReadingsResponse{Readings: make([]command.Reading, 0, len(pkg.Members))}
		for _, m := range pkg.Members {
			raw, ok := c.hubMetrics[m.ID]
			if !ok {
				raw = command.NoReadingAvailable
			}
			resp.Readings = append(resp.Readings, command.Reading{Metric: m, Raw: raw})
		}
		return resp.Pack(), ipmi.CompletionOK, nil
	}

	return nil, command.CompletionInvalidPackage, nil
}

func (c *Controller) getCUPS(_ []byte) ([]byte, uint8, error) {
	resp := command.GetCUPSUtilizationResponse{CPU: c.cups.CPU, Memory: c.cups.Memory, IO: c.cups.IO}
	return resp.Pack(), ipmi.CompletionOK, nil
}

// RoundTrips returns the number of requests served so far
func (c *Controller) RoundTrips() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundTrips
}

// Calls returns how many times the given command was sent
func (c *Controller) Calls(netFn, cmd uint8) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[commandKey{netFn, cmd}]
}

// Packages returns a copy of the packages the hub currently holds
func (c *Controller) Packages() []command.Package {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command.Package(nil), c.packages...)
}

// SetSensor replaces the state of one sensor
func (c *Controller) SetSensor(number uint8, s SensorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sensors[number] = s
}

// SetHubMetric sets the raw value of a hub metric, NoReadingAvailable included
func (c *Controller) SetHubMetric(id uint16, raw uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hubMetrics[id] = raw
}

// DropPackages forgets every hub package, as the node manager does on power loss
func (c *Controller) DropPackages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages = nil
}

// SetCUPS replaces the utilization indexes
func (c *Controller) SetCUPS(s CUPSState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cups = s
}

// Fail injects a completion code for a command
func (c *Controller) Fail(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

// ClearFailures removes every injected failure
func (c *Controller) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}
