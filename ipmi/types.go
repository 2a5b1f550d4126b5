package ipmi

import (
	"errors"
	"fmt"
)

// MaxDataLen bounds request and response data.
const MaxDataLen = 24

// Network function codes.
const (
	NetFnSE     uint8 = 0x04
	NetFnApp    uint8 = 0x06
	NetFnGrpExt uint8 = 0x2C
)

// App commands.
const (
	CmdGetDeviceID   uint8 = 0x01
	CmdGetDeviceGUID uint8 = 0x08
)

// Sensor/Event commands.
const (
	CmdSetEventReceiver     uint8 = 0x00
	CmdGetEventReceiver     uint8 = 0x01
	CmdGetDeviceSDRInfo     uint8 = 0x20
	CmdReserveDeviceSDR     uint8 = 0x22
	CmdSetSensorEventEnable uint8 = 0x28
	CmdGetSensorEventEnable uint8 = 0x29
	CmdGetSensorReading     uint8 = 0x2D
)

// PICMG group extension commands.
const (
	CmdGetPICMGProperties     uint8 = 0x00
	CmdFRUControl             uint8 = 0x04
	CmdSetFRUActivationPolicy uint8 = 0x0A
	CmdGetFRUActivationPolicy uint8 = 0x0B
	CmdSetFRUActivation       uint8 = 0x0C
	CmdFRUControlCapabilities uint8 = 0x1E
)

// PICMGIdentifier leads every PICMG request and response.
const PICMGIdentifier uint8 = 0x00

// CompletionCode is the first byte of every response.
type CompletionCode uint8

const (
	CCOK                       CompletionCode = 0x00
	CCNodeBusy                 CompletionCode = 0xC0
	CCInvalidCommand           CompletionCode = 0xC1
	CCTimeout                  CompletionCode = 0xC3
	CCReqDataInvalidLength     CompletionCode = 0xC7
	CCReqDataNotPresent        CompletionCode = 0xCB
	CCInvalidDataField         CompletionCode = 0xCC
	CCInsufficientPrivilege    CompletionCode = 0xD4
	CCNotSupportedPresentState CompletionCode = 0xD5
	CCUnspecifiedError         CompletionCode = 0xFF
)

func (c CompletionCode) String() string {
	switch c {
	case CCOK:
		return "ok"
	case CCNodeBusy:
		return "node busy"
	case CCInvalidCommand:
		return "invalid command"
	case CCTimeout:
		return "timeout"
	case CCReqDataInvalidLength:
		return "request data length invalid"
	case CCReqDataNotPresent:
		return "requested data not present"
	case CCInvalidDataField:
		return "invalid data field"
	case CCInsufficientPrivilege:
		return "insufficient privilege"
	case CCNotSupportedPresentState:
		return "not supported in present state"
	case CCUnspecifiedError:
		return "unspecified error"
	}
	return fmt.Sprintf("cc 0x%02x", uint8(c))
}

// Privilege is a channel or command privilege level.
type Privilege uint8

const (
	PrivCallback Privilege = iota + 1
	PrivUser
	PrivOperator
	PrivAdmin
)

// ParsePrivilege maps a config name to a privilege level.
func ParsePrivilege(s string) (Privilege, error) {
	switch s {
	case "callback":
		return PrivCallback, nil
	case "user":
		return PrivUser, nil
	case "operator":
		return PrivOperator, nil
	case "admin", "administrator":
		return PrivAdmin, nil
	}
	return 0, fmt.Errorf("unknown privilege %q", s)
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidLength  = errors.New("invalid request data length")
	ErrInvalidField   = errors.New("invalid data field")
	ErrInternalFault  = errors.New("internal fault")
)

// Request is one decoded management-bus request.
type Request struct {
	NetFn   uint8
	Cmd     uint8
	LUN     uint8
	Channel uint8
	Data    []byte
}

// Response is the completion code plus response data.
type Response struct {
	CC   CompletionCode
	Data []byte
}

// CompletionError lets a handler choose its completion code explicitly.
type CompletionError struct {
	Code CompletionCode
	Msg  string
}

func (e *CompletionError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Code.String()
}

// Fail returns a CompletionError for code.
func Fail(code CompletionCode, format string, args ...interface{}) error {
	return &CompletionError{Code: code, Msg: fmt.Sprintf(format, args...)}
}
