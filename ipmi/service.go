package ipmi

import (
	"sync"

	"mmcd/payload"
	"mmcd/sdr"

	"github.com/google/uuid"
)

// EventReceiverDisabled as the receiver address turns off event forwarding.
const EventReceiverDisabled uint8 = 0xFF

// PayloadControl is the slice of the sequencer the command handlers use.
type PayloadControl interface {
	Slots() int
	RequestPowerOn(slot int) error
	RequestPowerOff(slot int) error
	RequestReset(slot int) error
	Reboot(slot int) error
	SetActivationPolicy(slot int, mask, bits uint8) error
	ActivationPolicy(slot int) (payload.ActivationPolicy, error)
}

// SensorTable is the slice of the sensor repository the command handlers use.
type SensorTable interface {
	Len() int
	FindByID(id uint8) (sdr.Record, bool)
	SetEventEnable(id uint8, m sdr.EventMask) error
	EventEnable(id uint8) (sdr.EventMask, error)
	Reserve() uint16
}

// DeviceInfo is reported by Get Device ID and Get Device GUID.
type DeviceInfo struct {
	DeviceID       uint8
	DeviceRevision uint8
	FirmwareMajor  uint8
	FirmwareMinor  uint8
	ManufacturerID uint32
	ProductID      uint16
	GUID           uuid.UUID
}

// Service holds the state behind the standard command set and registers its handlers.
type Service struct {
	info    DeviceInfo
	payload PayloadControl
	sensors SensorTable

	mu           sync.Mutex
	receiverAddr uint8
	receiverLUN  uint8
}

// NewService creates the command set. Events go to receiverAddr until a Set Event
// Receiver request changes it.
func NewService(info DeviceInfo, pc PayloadControl, st SensorTable, receiverAddr uint8) *Service {
	if info.GUID == uuid.Nil {
		info.GUID = uuid.New()
	}
	return &Service{
		info:         info,
		payload:      pc,
		sensors:      st,
		receiverAddr: receiverAddr,
	}
}

// EventReceiver returns the current event receiver and whether forwarding is enabled.
func (s *Service) EventReceiver() (addr, lun uint8, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiverAddr, s.receiverLUN, s.receiverAddr != EventReceiverDisabled
}

// Register installs every handler of the command set on d.
func (s *Service) Register(d *Dispatcher) {
	d.Register(NetFnApp, CmdGetDeviceID, Route{Handler: HandlerFunc(s.getDeviceID), Privilege: PrivUser})
	d.Register(NetFnApp, CmdGetDeviceGUID, Route{Handler: HandlerFunc(s.getDeviceGUID), Privilege: PrivUser})

	d.Register(NetFnSE, CmdSetEventReceiver, Route{Handler: HandlerFunc(s.setEventReceiver), MinLen: 2, MaxLen: 2, Privilege: PrivAdmin})
	d.Register(NetFnSE, CmdGetEventReceiver, Route{Handler: HandlerFunc(s.getEventReceiver), Privilege: PrivUser})
	d.Register(NetFnSE, CmdGetDeviceSDRInfo, Route{Handler: HandlerFunc(s.getDeviceSDRInfo), MaxLen: 1, Privilege: PrivUser})
	d.Register(NetFnSE, CmdReserveDeviceSDR, Route{Handler: HandlerFunc(s.reserveDeviceSDR), Privilege: PrivUser})
	d.Register(NetFnSE, CmdSetSensorEventEnable, Route{Handler: HandlerFunc(s.setSensorEventEnable), MinLen: 2, MaxLen: 6, Privilege: PrivOperator})
	d.Register(NetFnSE, CmdGetSensorEventEnable, Route{Handler: HandlerFunc(s.getSensorEventEnable), MinLen: 1, MaxLen: 1, Privilege: PrivUser})
	d.Register(NetFnSE, CmdGetSensorReading, Route{Handler: HandlerFunc(s.getSensorReading), MinLen: 1, MaxLen: 1, Privilege: PrivUser})

	d.Register(NetFnGrpExt, CmdGetPICMGProperties, Route{Handler: HandlerFunc(s.getPICMGProperties), MinLen: 1, MaxLen: 1, Privilege: PrivUser})
	d.Register(NetFnGrpExt, CmdFRUControl, Route{Handler: HandlerFunc(s.fruControl), MinLen: 3, MaxLen: 3, Privilege: PrivAdmin})
	d.Register(NetFnGrpExt, CmdFRUControlCapabilities, Route{Handler: HandlerFunc(s.fruControlCapabilities), MinLen: 2, MaxLen: 2, Privilege: PrivUser})
	d.Register(NetFnGrpExt, CmdSetFRUActivationPolicy, Route{Handler: HandlerFunc(s.setFRUActivationPolicy), MinLen: 4, MaxLen: 4, Privilege: PrivAdmin})
	d.Register(NetFnGrpExt, CmdGetFRUActivationPolicy, Route{Handler: HandlerFunc(s.getFRUActivationPolicy), MinLen: 2, MaxLen: 2, Privilege: PrivUser})
	d.Register(NetFnGrpExt, CmdSetFRUActivation, Route{Handler: HandlerFunc(s.setFRUActivation), MinLen: 3, MaxLen: 3, Privilege: PrivAdmin})
}
