// Package command holds the request/response pairs the telemetry readers
// exchange with a controller.
package command

import (
	"encoding/binary"

	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
)

const (
	CmdGetSensorReading uint8 = 0x2D
	CmdReserveSDRRepo   uint8 = 0x22
	CmdGetSDR           uint8 = 0x23
)

const (
	SDRFirstRecordID uint16 = 0x0000
	SDRLastRecordID  uint16 = 0xFFFF
	SDREntireRecord  uint8  = 0xFF
)

const (
	sensorScanningEnabled    = 0x40
	sensorReadingUnavailable = 0x20
)

// Threshold status bits of the Get Sensor Reading response
const (
	ThresholdLowerNonCritical    uint8 = 1 << 0
	ThresholdLowerCritical       uint8 = 1 << 1
	ThresholdLowerNonRecoverable uint8 = 1 << 2
	ThresholdUpperNonCritical    uint8 = 1 << 3
	ThresholdUpperCritical       uint8 = 1 << 4
	ThresholdUpperNonRecoverable uint8 = 1 << 5
)

// GetSensorReadingRequest asks for the current reading of one sensor
type GetSensorReadingRequest struct {
	SensorNumber uint8
}

func (*GetSensorReadingRequest) NetFn() uint8   { return ipmi.NetFnSensorEvent }
func (*GetSensorReadingRequest) Command() uint8 { return CmdGetSensorReading }

func (r *GetSensorReadingRequest) Pack() []byte {
	return []byte{r.SensorNumber}
}

// GetSensorReadingResponse carries the raw reading and its status bits
type GetSensorReadingResponse struct {
	Reading         uint8
	Flags           uint8
	ThresholdStatus uint8
}

func (r *GetSensorReadingResponse) Unpack(data []byte) error {
	if err := ipmi.CheckLength(data, 2); err != nil {
		return err
	}
	r.Reading = data[0]
	r.Flags = data[1]
	r.ThresholdStatus = 0
	if len(data) > 2 {
		r.ThresholdStatus = data[2]
	}
	return nil
}

// IsValidReading reports whether scanning is enabled and the reading is available
func (r *GetSensorReadingResponse) IsValidReading() bool {
	return r.Flags&sensorScanningEnabled != 0 && r.Flags&sensorReadingUnavailable == 0
}

// ReserveSDRRepositoryRequest reserves the repository for reading
type ReserveSDRRepositoryRequest struct{}

func (*ReserveSDRRepositoryRequest) NetFn() uint8   { return ipmi.NetFnStorage }
func (*ReserveSDRRepositoryRequest) Command() uint8 { return CmdReserveSDRRepo }
func (*ReserveSDRRepositoryRequest) Pack() []byte   { return nil }

type ReserveSDRRepositoryResponse struct {
	ReservationID uint16
}

func (r *ReserveSDRRepositoryResponse) Unpack(data []byte) error {
	if err := ipmi.CheckLength(data, 2); err != nil {
		return err
	}
	r.ReservationID = binary.LittleEndian.Uint16(data)
	return nil
}

// GetSDRRequest fetches one repository record
type GetSDRRequest struct {
	ReservationID uint16
	RecordID      uint16
	Offset        uint8
	BytesToRead   uint8
}

func (*GetSDRRequest) NetFn() uint8   { return ipmi.NetFnStorage }
func (*GetSDRRequest) Command() uint8 { return CmdGetSDR }

func (r *GetSDRRequest) Pack() []byte {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint16(data[0:], r.ReservationID)
	binary.LittleEndian.PutUint16(data[2:], r.RecordID)
	data[4] = r.Offset
	data[5] = r.BytesToRead
	return data
}

// GetSDRResponse carries the next record id and the record bytes (header included)
type GetSDRResponse struct {
	NextRecordID uint16
	RecordData   []byte
}

func (r *GetSDRResponse) Unpack(data []byte) error {
	if err := ipmi.CheckLength(data, 2); err != nil {
		return err
	}
	r.NextRecordID = binary.LittleEndian.Uint16(data)
	r.RecordData = append(r.RecordData[:0], data[2:]...)
	return nil
}

// UnpackGetSDRRequest decodes a request built by Pack
func UnpackGetSDRRequest(data []byte) (*GetSDRRequest, error) {
	if err := ipmi.CheckLength(data, 6); err != nil {
		return nil, err
	}
	return &GetSDRRequest{
		ReservationID: binary.LittleEndian.Uint16(data[0:]),
		RecordID:      binary.LittleEndian.Uint16(data[2:]),
		Offset:        data[4],
		BytesToRead:   data[5],
	}, nil
}

// Pack methods below encode responses for simulated controllers.

func (r *GetSensorReadingResponse) Pack() []byte {
	return []byte{r.Reading, r.Flags, r.ThresholdStatus}
}

func (r *ReserveSDRRepositoryResponse) Pack() []byte {
	return binary.LittleEndian.AppendUint16(nil, r.ReservationID)
}

func (r *GetSDRResponse) Pack() []byte {
	return append(binary.LittleEndian.AppendUint16(nil, r.NextRecordID), r.RecordData...)
}
