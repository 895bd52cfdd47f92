// Package ipmi defines the request/response capability used to talk to a
// management controller. Transports implement Controller; the telemetry core
// only consumes it.
package ipmi

import "fmt"

// Network function codes used by the telemetry commands
const (
	NetFnSensorEvent uint8 = 0x04
	NetFnStorage     uint8 = 0x0A
	NetFnOEMGroup    uint8 = 0x2E
)

// Completion codes
const (
	CompletionOK             uint8 = 0x00
	CompletionNodeBusy       uint8 = 0xC0
	CompletionInvalidCommand uint8 = 0xC1
	CompletionTimeout        uint8 = 0xC3
	CompletionReservation    uint8 = 0xC5
	CompletionDataLength     uint8 = 0xC7
	CompletionNotPresent     uint8 = 0xCB
	CompletionUnspecified    uint8 = 0xFF
)

// Request is a command sent to the controller
type Request interface {
	NetFn() uint8
	Command() uint8
	Pack() []byte
}

// Response is filled from the command's response data (after the completion code)
type Response interface {
	Unpack(data []byte) error
}

// Bridge addresses a satellite controller behind the BMC (e.g. the node manager)
type Bridge struct {
	Channel uint8
	Address uint8
}

func (b Bridge) String() string {
	return fmt.Sprintf("channel 0x%02x address 0x%02x", b.Channel, b.Address)
}

// NodeManagerBridge is the usual bridge to the Intel node manager
var NodeManagerBridge = Bridge{Channel: 0x06, Address: 0x2C}

// Controller exchanges request/response pairs with a management controller.
// Both calls block until the response is received. A non-zero completion
// code is returned as an error carrying CodeCompletion.
type Controller interface {
	Send(req Request, resp Response) error
	SendBridged(req Request, bridge Bridge, resp Response) error
}
