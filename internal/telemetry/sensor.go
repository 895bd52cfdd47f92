package telemetry

import (
	"fmt"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
)

var sensorTypeID = NewTypeID()

// SensorDefinition is what the repository says about one sensor number
type SensorDefinition struct {
	Record command.SDRRecord
	Name   string
}

// Convert turns a raw reading into a value
func (d SensorDefinition) Convert(raw uint8) Value {
	if d.Record.HasNumericReading() {
		return Number(d.Record.Convert(raw))
	}
	return Number(float64(raw))
}

// SensorContext holds the sensor repository, read once on creation
type SensorContext struct {
	sensors map[uint8]SensorDefinition
}

// NewSensorContext reserves the repository and walks every record
func NewSensorContext(ctrl ipmi.Controller) (*SensorContext, error) {
	log := logger.New("telemetry")
	errFactory := errors.New()

	var reserve command.ReserveSDRRepositoryResponse
	if err := ctrl.Send(&command.ReserveSDRRepositoryRequest{}, &reserve); err != nil {
		return nil, errFactory.Wrap(ErrContextCreate, err).WithMessage("Reserve SDR Repository failed")
	}

	c := &SensorContext{sensors: make(map[uint8]SensorDefinition)}
	visited := make(map[uint16]bool)
	req := &command.GetSDRRequest{
		ReservationID: reserve.ReservationID,
		RecordID:      command.SDRFirstRecordID,
		BytesToRead:   command.SDREntireRecord,
	}

	for req.RecordID != command.SDRLastRecordID {
		if visited[req.RecordID] {
			return nil, errFactory.WithData(ErrSDRLoop, fmt.Sprintf("record #%d", req.RecordID))
		}
		visited[req.RecordID] = true

		var resp command.GetSDRResponse
		if err := ctrl.Send(req, &resp); err != nil {
			return nil, errFactory.Wrap(ErrContextCreate, err).WithMessage("Get SDR failed")
		}
		req.RecordID = resp.NextRecordID

		rec, err := command.ParseSDRRecord(resp.RecordData)
		if err != nil {
			log.Warn().Err(err).Uint16("record", rec.RecordID).Msg("Skipping short SDR record")
			continue
		}
		if !rec.IsSensor() {
			log.Debug().Uint16("record", rec.RecordID).Uint8("type", rec.Type).Msg("Skipping SDR record")
			continue
		}
		if _, dup := c.sensors[rec.SensorNumber]; dup {
			log.Warn().Str("sensor", sensorLabel(rec.SensorNumber)).Msg("Duplicated sensor in SDR")
			continue
		}

		name := rec.Name
		if rec.NameTruncated {
			log.Warn().Str("sensor", sensorLabel(rec.SensorNumber)).Msg("Unable to read sensor name")
			name = fmt.Sprintf("#%d", rec.SensorNumber)
		}
		c.sensors[rec.SensorNumber] = SensorDefinition{Record: rec, Name: name}

		log.Debug().
			Str("sensor", sensorLabel(rec.SensorNumber)).
			Str("name", name).
			Int16("m", rec.M).
			Int16("b", rec.B).
			Int8("b_exp", rec.BExp).
			Int8("r_exp", rec.RExp).
			Msg("SDR sensor")
	}

	return c, nil
}

// Update has nothing to refresh; every due member is read
func (c *SensorContext) Update() (bool, error) {
	return true, nil
}

// Sensor returns the definition of sensor number n
func (c *SensorContext) Sensor(n uint8) (SensorDefinition, bool) {
	def, ok := c.sensors[n]
	return def, ok
}

// Len returns the number of sensors found in the repository
func (c *SensorContext) Len() int {
	return len(c.sensors)
}

func sensorLabel(n uint8) string {
	return fmt.Sprintf("#0x%02x", n)
}

// sensorKey addresses a sensor and the entity it must belong to
type sensorKey struct {
	number         uint8
	entityID       uint8
	entityInstance uint8
}

func (k sensorKey) lookup(ctx Context) (SensorDefinition, bool) {
	sc, ok := ctx.(*SensorContext)
	if !ok {
		return SensorDefinition{}, false
	}
	def, ok := sc.Sensor(k.number)
	if !ok {
		logger.New("telemetry").Error().Str("sensor", sensorLabel(k.number)).Msg("Sensor not defined in SDR")
		return SensorDefinition{}, false
	}
	if def.Record.EntityID != k.entityID || def.Record.EntityInstance != k.entityInstance {
		logger.New("telemetry").Error().
			Str("sensor", sensorLabel(k.number)).
			Str("entity", fmt.Sprintf("0x%02x.%d", def.Record.EntityID, def.Record.EntityInstance)).
			Msg("Entity mismatch")
		return SensorDefinition{}, false
	}
	return def, true
}

func (k sensorKey) reading(ctrl ipmi.Controller) (*command.GetSensorReadingResponse, error) {
	var resp command.GetSensorReadingResponse
	if err := ctrl.Send(&command.GetSensorReadingRequest{SensorNumber: k.number}, &resp); err != nil {
		return nil, errors.New().Wrap(ErrRead, err).WithMessage("Get Sensor Reading failed for sensor " + sensorLabel(k.number))
	}
	return &resp, nil
}

// SensorReader reads one repository sensor
type SensorReader struct {
	BaseReader
	key sensorKey
}

// NewSensorReader returns a reader for sensorNumber, which must belong to
// the entity entityID.entityInstance.
func NewSensorReader(resource ResourceInstance, definition *MetricDefinition, sensorNumber, entityID, entityInstance uint8) *SensorReader {
	return &SensorReader{
		BaseReader: NewBaseReader(resource, definition, FillMetric),
		key:        sensorKey{number: sensorNumber, entityID: entityID, entityInstance: entityInstance},
	}
}

func (r *SensorReader) TypeID() TypeID { return sensorTypeID }

func (r *SensorReader) Info() string { return "Sensor " + sensorLabel(r.key.number) }

// SensorNumber returns the sensor the reader reads
func (r *SensorReader) SensorNumber() uint8 { return r.key.number }

func (r *SensorReader) CreateContext(ctrl ipmi.Controller, _ []Reader) (Context, error) {
	return NewSensorContext(ctrl)
}

func (r *SensorReader) IsValid(ctx Context) bool {
	_, ok := r.key.lookup(ctx)
	return ok
}

func (r *SensorReader) Read(ctx Context, ctrl ipmi.Controller) (bool, error) {
	def, ok := r.key.lookup(ctx)
	if !ok {
		return false, errors.New().WithData(ErrContextType, r.Info())
	}
	resp, err := r.key.reading(ctrl)
	if err != nil {
		return false, err
	}
	if !resp.IsValidReading() {
		return r.UpdateValue(Absent()), nil
	}
	return r.UpdateValue(def.Convert(resp.Reading)), nil
}
