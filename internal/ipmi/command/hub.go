package command

import (
	"encoding/binary"
	"fmt"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/ipmi"
)

// Telemetry hub commands exposed by the node manager (OEM group)
const (
	CmdGetPackageList     uint8 = 0xE0
	CmdCreatePackage      uint8 = 0xE1
	CmdGetPackageReadings uint8 = 0xE2
	CmdGetCUPSData        uint8 = 0x65
)

// CompletionInvalidPackage is returned when the package id is no longer known,
// typically after the managed node lost power.
const CompletionInvalidPackage uint8 = 0x80

// NoReadingAvailable is the raw value of a member that has no reading
const NoReadingAvailable uint32 = 0xFFFFFFFF

// intelIANA prefixes every OEM group request and response
var intelIANA = [3]byte{0x57, 0x01, 0x00}

const (
	ianaLength        = 3
	metricIDLength    = 3
	readingLength     = metricIDLength + 4
	packageHeaderSize = 5
)

// MeasureType selects how the hub samples a metric
type MeasureType uint8

const (
	MeasureLatest MeasureType = iota
	MeasureAverage
	MeasureMinimum
	MeasureMaximum
)

// MetricID identifies one hub metric sampled a given way
type MetricID struct {
	ID          uint16
	MeasureType MeasureType
}

func (m MetricID) String() string {
	return fmt.Sprintf("0x%04x/%d", m.ID, m.MeasureType)
}

// Reading is one member value of a package
type Reading struct {
	Metric MetricID
	Raw    uint32
}

// Available reports whether the hub had a value for the member
func (r Reading) Available() bool {
	return r.Raw != NoReadingAvailable
}

// Package is a controller side subscription
type Package struct {
	ID      uint32
	Members []MetricID
}

func packIANA(data []byte) []byte {
	return append(data, intelIANA[:]...)
}

func unpackIANA(data []byte) ([]byte, error) {
	if err := ipmi.CheckLength(data, ianaLength); err != nil {
		return nil, err
	}
	if data[0] != intelIANA[0] || data[1] != intelIANA[1] || data[2] != intelIANA[2] {
		return nil, errors.New().WithData(ipmi.ErrMalformed,
			fmt.Sprintf("unexpected IANA % x", data[:ianaLength]))
	}
	return data[ianaLength:], nil
}

func packMetricID(data []byte, m MetricID) []byte {
	data = binary.LittleEndian.AppendUint16(data, m.ID)
	return append(data, uint8(m.MeasureType))
}

func unpackMetricID(data []byte) MetricID {
	return MetricID{
		ID:          binary.LittleEndian.Uint16(data),
		MeasureType: MeasureType(data[2]),
	}
}

// GetPackageListRequest lists the packages known to the hub
type GetPackageListRequest struct{}

func (*GetPackageListRequest) NetFn() uint8   { return ipmi.NetFnOEMGroup }
func (*GetPackageListRequest) Command() uint8 { return CmdGetPackageList }
func (*GetPackageListRequest) Pack() []byte   { return packIANA(nil) }

type GetPackageListResponse struct {
	Packages []Package
}

func (r *GetPackageListResponse) Unpack(data []byte) error {
	data, err := unpackIANA(data)
	if err != nil {
		return err
	}
	if err := ipmi.CheckLength(data, 1); err != nil {
		return err
	}

	count := int(data[0])
	data = data[1:]
	r.Packages = make([]Package, 0, count)
	for i := 0; i < count; i++ {
		if err := ipmi.CheckLength(data, packageHeaderSize); err != nil {
			return err
		}
		pkg := Package{ID: binary.LittleEndian.Uint32(data)}
		members := int(data[4])
		data = data[packageHeaderSize:]
		if err := ipmi.CheckLength(data, members*metricIDLength); err != nil {
			return err
		}
		for j := 0; j < members; j++ {
			pkg.Members = append(pkg.Members, unpackMetricID(data[j*metricIDLength:]))
		}
		data = data[members*metricIDLength:]
		r.Packages = append(r.Packages, pkg)
	}

	return nil
}

// Pack encodes the response; used by simulated controllers
func (r *GetPackageListResponse) Pack() []byte {
	data := packIANA(nil)
	data = append(data, uint8(len(r.Packages)))
	for _, pkg := range r.Packages {
		data = binary.LittleEndian.AppendUint32(data, pkg.ID)
		data = append(data, uint8(len(pkg.Members)))
		for _, m := range pkg.Members {
			data = packMetricID(data, m)
		}
	}
	return data
}

// CreatePackageRequest subscribes a set of metrics as one package
type CreatePackageRequest struct {
	Members []MetricID
}

func (*CreatePackageRequest) NetFn() uint8   { return ipmi.NetFnOEMGroup }
func (*CreatePackageRequest) Command() uint8 { return CmdCreatePackage }

func (r *CreatePackageRequest) Pack() []byte {
	data := packIANA(nil)
	data = append(data, uint8(len(r.Members)))
	for _, m := range r.Members {
		data = packMetricID(data, m)
	}
	return data
}

// UnpackCreatePackageRequest decodes a request built by Pack
func UnpackCreatePackageRequest(data []byte) (*CreatePackageRequest, error) {
	data, err := unpackIANA(data)
	if err != nil {
		return nil, err
	}
	if err := ipmi.CheckLength(data, 1); err != nil {
		return nil, err
	}
	n := int(data[0])
	data = data[1:]
	if err := ipmi.CheckLength(data, n*metricIDLength); err != nil {
		return nil, err
	}

	req := &CreatePackageRequest{Members: make([]MetricID, n)}
	for i := range req.Members {
		req.Members[i] = unpackMetricID(data[i*metricIDLength:])
	}
	return req, nil
}

type CreatePackageResponse struct {
	PackageID uint32
}

func (r *CreatePackageResponse) Unpack(data []byte) error {
	data, err := unpackIANA(data)
	if err != nil {
		return err
	}
	if err := ipmi.CheckLength(data, 4); err != nil {
		return err
	}
	r.PackageID = binary.LittleEndian.Uint32(data)
	return nil
}

func (r *CreatePackageResponse) Pack() []byte {
	return binary.LittleEndian.AppendUint32(packIANA(nil), r.PackageID)
}

// GetPackageReadingsRequest reads every member of a package in one round trip
type GetPackageReadingsRequest struct {
	PackageID uint32
}

func (*GetPackageReadingsRequest) NetFn() uint8   { return ipmi.NetFnOEMGroup }
func (*GetPackageReadingsRequest) Command() uint8 { return CmdGetPackageReadings }

func (r *GetPackageReadingsRequest) Pack() []byte {
	return binary.LittleEndian.AppendUint32(packIANA(nil), r.PackageID)
}

// UnpackGetPackageReadingsRequest decodes a request built by Pack
func UnpackGetPackageReadingsRequest(data []byte) (*GetPackageReadingsRequest, error) {
	data, err := unpackIANA(data)
	if err != nil {
		return nil, err
	}
	if err := ipmi.CheckLength(data, 4); err != nil {
		return nil, err
	}
	return &GetPackageReadingsRequest{PackageID: binary.LittleEndian.Uint32(data)}, nil
}

type GetPackageReadingsResponse struct {
	Readings []Reading
}

func (r *GetPackageReadingsResponse) Unpack(data []byte) error {
	data, err := unpackIANA(data)
	if err != nil {
		return err
	}
	if err := ipmi.CheckLength(data, 1); err != nil {
		return err
	}
	n := int(data[0])
	data = data[1:]
	if err := ipmi.CheckLength(data, n*readingLength); err != nil {
		return err
	}

	r.Readings = make([]Reading, n)
	for i := range r.Readings {
		off := i * readingLength
		r.Readings[i] = Reading{
			Metric: unpackMetricID(data[off:]),
			Raw:    binary.LittleEndian.Uint32(data[off+metricIDLength:]),
		}
	}
	return nil
}

func (r *GetPackageReadingsResponse) Pack() []byte {
	data := packIANA(nil)
	data = append(data, uint8(len(r.Readings)))
	for _, reading := range r.Readings {
		data = packMetricID(data, reading.Metric)
		data = binary.LittleEndian.AppendUint32(data, reading.Raw)
	}
	return data
}

// GetCUPSUtilizationRequest reads the CPU, memory and IO utilization indexes
type GetCUPSUtilizationRequest struct{}

const cupsParameterUtilization = 0x05

func (*GetCUPSUtilizationRequest) NetFn() uint8   { return ipmi.NetFnOEMGroup }
func (*GetCUPSUtilizationRequest) Command() uint8 { return CmdGetCUPSData }

func (*GetCUPSUtilizationRequest) Pack() []byte {
	return append(packIANA(nil), cupsParameterUtilization)
}

// GetCUPSUtilizationResponse values are in hundredths of a percent
type GetCUPSUtilizationResponse struct {
	CPU    uint16
	Memory uint16
	IO     uint16
}

func (r *GetCUPSUtilizationResponse) Unpack(data []byte) error {
	data, err := unpackIANA(data)
	if err != nil {
		return err
	}
	if err := ipmi.CheckLength(data, 6); err != nil {
		return err
	}
	r.CPU = binary.LittleEndian.Uint16(data[0:])
	r.Memory = binary.LittleEndian.Uint16(data[2:])
	r.IO = binary.LittleEndian.Uint16(data[4:])
	return nil
}

func (r *GetCUPSUtilizationResponse) Pack() []byte {
	data := packIANA(nil)
	data = binary.LittleEndian.AppendUint16(data, r.CPU)
	data = binary.LittleEndian.AppendUint16(data, r.Memory)
	return binary.LittleEndian.AppendUint16(data, r.IO)
}
