package sim

import (
	"os"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi/command"
	"gopkg.in/yaml.v3"
)

// Fixture describes the controller state served by the simulator
type Fixture struct {
	SDR     []SDREntry            `yaml:"sdr"`
	Sensors map[uint8]SensorState `yaml:"sensors"`
	Hub     HubState              `yaml:"hub"`
	CUPS    CUPSState             `yaml:"cups"`
	Fail    []Failure             `yaml:"fail_commands"`
}

// SDREntry is one repository record
type SDREntry struct {
	RecordID       uint16 `yaml:"record_id"`
	Compact        bool   `yaml:"compact"`
	Sensor         uint8  `yaml:"sensor"`
	EntityID       uint8  `yaml:"entity_id"`
	EntityInstance uint8  `yaml:"entity_instance"`
	Name           string `yaml:"name"`
	Discrete       bool   `yaml:"discrete"`
	NonLinear      bool   `yaml:"non_linear"`
	M              int16  `yaml:"m"`
	B              int16  `yaml:"b"`
	BExp           int8   `yaml:"b_exp"`
	RExp           int8   `yaml:"r_exp"`

	// Truncate cuts the encoded record to this many bytes when set
	Truncate int `yaml:"truncate"`
}

// SensorState is what Get Sensor Reading answers for one sensor
type SensorState struct {
	Reading     uint8 `yaml:"reading"`
	Unavailable bool  `yaml:"unavailable"`
	Threshold   uint8 `yaml:"threshold_status"`
}

// HubState holds the telemetry hub metrics and pre-existing packages
type HubState struct {
	Metrics  map[uint16]uint32 `yaml:"metrics"`
	Packages []PackageEntry    `yaml:"packages"`

	// StaleOnce makes the first Get Package Readings fail with an invalid package
	StaleOnce bool `yaml:"stale_once"`
}

// CUPSState holds utilization indexes in hundredths of a percent
type CUPSState struct {
	CPU    uint16 `yaml:"cpu"`
	Memory uint16 `yaml:"memory"`
	IO     uint16 `yaml:"io"`
}

type PackageEntry struct {
	ID      uint32        `yaml:"id"`
	Members []MetricEntry `yaml:"members"`
}

type MetricEntry struct {
	ID          uint16 `yaml:"id"`
	MeasureType uint8  `yaml:"measure_type"`
}

// Failure makes a command answer with a completion code.
// Count limits how many times it fires, zero means always.
type Failure struct {
	NetFn          uint8 `yaml:"netfn"`
	Command        uint8 `yaml:"command"`
	CompletionCode uint8 `yaml:"completion_code"`
	Count          int   `yaml:"count"`
}

// ParseFixture decodes a YAML fixture
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New().Wrap(ErrParseFixture, err)
	}
	return &f, nil
}

// LoadFixture reads and decodes a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().Wrap(ErrLoadFixture, err).WithMessage("Failed to read fixture " + path)
	}
	return ParseFixture(data)
}

func (e SDREntry) record(id uint16) command.SDRRecord {
	rec := command.SDRRecord{
		RecordID:       id,
		Version:        0x51,
		Type:           command.SDRTypeFullSensor,
		SensorNumber:   e.Sensor,
		EntityID:       e.EntityID,
		EntityInstance: e.EntityInstance,
		ReadingType:    command.EventReadingThreshold,
		M:              e.M,
		B:              e.B,
		BExp:           e.BExp,
		RExp:           e.RExp,
		Name:           e.Name,
	}
	if e.Compact {
		rec.Type = command.SDRTypeCompactSensor
	}
	if e.Discrete {
		rec.ReadingType = 0x6F
		rec.Units1 = command.AnalogNone << 6
	}
	if e.NonLinear {
		rec.Linearization = 0x70
	}
	return rec
}
