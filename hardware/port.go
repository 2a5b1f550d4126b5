package hardware

import "mmcd/payload"

// SensorSource supplies raw readings to the sensor sampler. ok is false when
// the sensor cannot be read (an unpowered payload, say).
type SensorSource interface {
	ReadSensor(id uint8) (value uint16, ok bool)
}

// Board is a complete hardware backend: payload control lines plus sensors.
type Board interface {
	payload.HardwarePort
	SensorSource
}

// EventEmitter is the interface the hardware package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitAgentConnected(url string)
	EmitAgentDisconnected(err error)
}
