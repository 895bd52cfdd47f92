package command

import (
	"encoding/binary"
	"fmt"
	"math"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
)

// Record types
const (
	SDRTypeFullSensor    uint8 = 0x01
	SDRTypeCompactSensor uint8 = 0x02
)

// EventReadingThreshold marks a threshold based sensor
const EventReadingThreshold uint8 = 0x01

const (
	linearizationNonLinear = 0x70

	sdrHeaderLength     = 5
	sdrFullMinLength    = 48
	sdrCompactMinLength = 32
	sdrFullIDOffset     = 47
	sdrCompactIDOffset  = 31
	sdrIDLengthMask     = 0x1F
)

// Analog data formats (units 1, bits 7:6)
const (
	AnalogUnsigned       uint8 = 0
	AnalogOnesComplement uint8 = 1
	AnalogTwosComplement uint8 = 2
	AnalogNone           uint8 = 3
)

// SDRRecord is the decoded subset of a full or compact sensor record
type SDRRecord struct {
	RecordID       uint16
	Version        uint8
	Type           uint8
	SensorNumber   uint8
	EntityID       uint8
	EntityInstance uint8
	ReadingType    uint8
	Units1         uint8
	Linearization  uint8
	M              int16
	B              int16
	RExp           int8
	BExp           int8
	Name           string
	NameTruncated  bool // ID string cut short by the record length
}

// ParseSDRRecord decodes a record as returned by Get SDR (header included).
// Records other than full and compact sensor records are returned with only
// the header fields filled.
func ParseSDRRecord(data []byte) (SDRRecord, error) {
	var rec SDRRecord
	if err := ipmi.CheckLength(data, sdrHeaderLength); err != nil {
		return rec, err
	}

	rec.RecordID = binary.LittleEndian.Uint16(data[0:])
	rec.Version = data[2]
	rec.Type = data[3]

	var idOffset int
	switch rec.Type {
	case SDRTypeFullSensor:
		if err := checkRecordLength(data, sdrFullMinLength); err != nil {
			return rec, err
		}
		idOffset = sdrFullIDOffset
	case SDRTypeCompactSensor:
		if err := checkRecordLength(data, sdrCompactMinLength); err != nil {
			return rec, err
		}
		idOffset = sdrCompactIDOffset
	default:
		return rec, nil
	}

	rec.SensorNumber = data[7]
	rec.EntityID = data[8]
	rec.EntityInstance = data[9]
	rec.ReadingType = data[13]
	rec.Units1 = data[20]

	if rec.Type == SDRTypeFullSensor {
		rec.Linearization = data[23] & 0x7F
		rec.M = signExtend10(uint16(data[24]) | uint16(data[25]&0xC0)<<2)
		rec.B = signExtend10(uint16(data[26]) | uint16(data[27]&0xC0)<<2)
		rec.RExp = signExtend4(data[29] >> 4)
		rec.BExp = signExtend4(data[29] & 0x0F)
	}

	if len(data) > idOffset {
		n := int(data[idOffset] & sdrIDLengthMask)
		start := idOffset + 1
		end := start + n
		if end > len(data) {
			end = len(data)
			rec.NameTruncated = true
		}
		rec.Name = string(data[start:end])
	} else {
		rec.NameTruncated = true
	}

	return rec, nil
}

func checkRecordLength(data []byte, n int) error {
	if len(data) < n {
		return errors.New().WithData(ipmi.ErrMalformed,
			fmt.Sprintf("record type 0x%02x: got %d bytes, want at least %d", data[3], len(data), n))
	}
	return nil
}

func signExtend10(v uint16) int16 {
	if v&0x200 != 0 {
		return int16(v) - 0x400
	}
	return int16(v)
}

func signExtend4(v uint8) int8 {
	if v&0x08 != 0 {
		return int8(v) - 0x10
	}
	return int8(v)
}

// IsSensor reports whether the record describes a sensor
func (r SDRRecord) IsSensor() bool {
	return r.Type == SDRTypeFullSensor || r.Type == SDRTypeCompactSensor
}

// IsThreshold reports whether the sensor is threshold based
func (r SDRRecord) IsThreshold() bool {
	return r.ReadingType == EventReadingThreshold
}

// AnalogFormat returns the analog data format from units 1
func (r SDRRecord) AnalogFormat() uint8 {
	return r.Units1 >> 6
}

// HasNumericReading reports whether raw readings can be converted to a number.
// Linearity does not matter, non-linear sensors use the same formula.
func (r SDRRecord) HasNumericReading() bool {
	return r.Type == SDRTypeFullSensor &&
		r.IsThreshold() &&
		r.AnalogFormat() != AnalogNone
}

// IsLinear reports whether the record declares a linear conversion
func (r SDRRecord) IsLinear() bool {
	return r.Linearization != linearizationNonLinear
}

// Convert turns a raw reading into a value: (raw*M + B*10^Bexp) * 10^Rexp
func (r SDRRecord) Convert(raw uint8) float64 {
	var x float64
	switch r.AnalogFormat() {
	case AnalogOnesComplement:
		v := int8(raw)
		if v < 0 {
			v++
		}
		x = float64(v)
	case AnalogTwosComplement:
		x = float64(int8(raw))
	default:
		x = float64(raw)
	}

	return (x*float64(r.M) + float64(r.B)*math.Pow10(int(r.BExp))) * math.Pow10(int(r.RExp))
}

// Marshal encodes the record in the wire layout ParseSDRRecord reads.
// Fields outside the decoded subset are left zero.
func (r SDRRecord) Marshal() []byte {
	idOffset := sdrCompactIDOffset
	if r.Type == SDRTypeFullSensor {
		idOffset = sdrFullIDOffset
	}

	name := r.Name
	if len(name) > sdrIDLengthMask {
		name = name[:sdrIDLengthMask]
	}

	data := make([]byte, idOffset+1+len(name))
	binary.LittleEndian.PutUint16(data[0:], r.RecordID)
	data[2] = r.Version
	data[3] = r.Type
	data[4] = uint8(len(data) - sdrHeaderLength)
	data[7] = r.SensorNumber
	data[8] = r.EntityID
	data[9] = r.EntityInstance
	data[13] = r.ReadingType
	data[20] = r.Units1

	if r.Type == SDRTypeFullSensor {
		m := uint16(r.M) & 0x3FF
		b := uint16(r.B) & 0x3FF
		data[23] = r.Linearization
		data[24] = uint8(m)
		data[25] = uint8(m>>2) & 0xC0
		data[26] = uint8(b)
		data[27] = uint8(b>>2) & 0xC0
		data[29] = uint8(r.RExp)<<4 | uint8(r.BExp)&0x0F
	}

	data[idOffset] = 0xC0 | uint8(len(name))
	copy(data[idOffset+1:], name)

	return data
}
