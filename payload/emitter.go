package payload

// Emitter is the interface the payload package uses to emit transition events.
type Emitter interface {
	EmitTransition(rec EventRecord)
}

// SensorSink receives the sensor updates that accompany transitions.
type SensorSink interface {
	PostDiscreteEvent(id uint8, offset uint8) error
	InvalidateOwner(entity string)
}

// HardwarePort is the narrow contract to the board's power and status lines.
type HardwarePort interface {
	AssertPowerRail(slot int, on bool)
	ReadPowerGood(slot int) bool
	ReadHandlePosition(slot int) HandlePosition
	AssertReset(slot int, on bool)
	ReadSetupStatus(slot int) SetupStatus
}
