package ipmi

import (
	"fmt"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
)

const (
	ErrCompletionCode   = errors.ErrorCode("ipmi_completion_code")
	ErrTransport        = errors.ErrorCode("ipmi_transport_failed")
	ErrResponseTooShort = errors.ErrorCode("ipmi_response_too_short")
	ErrMalformed        = errors.ErrorCode("ipmi_malformed_response")
)

// CompletionCode is attached as data to ErrCompletionCode errors
type CompletionCode struct {
	NetFn   uint8
	Command uint8
	Code    uint8
}

func (c CompletionCode) String() string {
	return fmt.Sprintf("netfn 0x%02x cmd 0x%02x completion code 0x%02x", c.NetFn, c.Command, c.Code)
}

// NewCompletionCodeError builds the error a Controller returns for a non-zero completion code
func NewCompletionCodeError(req Request, code uint8) error {
	return errors.New().WithData(ErrCompletionCode, CompletionCode{
		NetFn:   req.NetFn(),
		Command: req.Command(),
		Code:    code,
	})
}

// GetCompletionCode extracts the completion code from err, if there is one
func GetCompletionCode(err error) (uint8, bool) {
	for err != nil {
		var appErr errors.Error
		if !errors.As(err, &appErr) {
			return 0, false
		}
		if cc, ok := appErr.GetData().(CompletionCode); ok && appErr.Code() == ErrCompletionCode {
			return cc.Code, true
		}
		err = appErr.Unwrap()
	}

	return 0, false
}

// IsCompletionCode reports whether err carries the given completion code
func IsCompletionCode(err error, code uint8) bool {
	cc, ok := GetCompletionCode(err)
	return ok && cc == code
}

// IsNodeBusy reports whether the controller answered "node busy"
func IsNodeBusy(err error) bool {
	return IsCompletionCode(err, CompletionNodeBusy)
}

// CheckLength returns ErrResponseTooShort when data holds fewer than n bytes
func CheckLength(data []byte, n int) error {
	if len(data) < n {
		return errors.New().WithData(ErrResponseTooShort, fmt.Sprintf("got %d bytes, want %d", len(data), n))
	}
	return nil
}
