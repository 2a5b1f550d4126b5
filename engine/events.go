package engine

import (
	"time"

	"mmcd/payload"
	"mmcd/sdr"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Payload events
	EventPayloadTransition EventType = iota + 1

	// Sensor events
	EventSensorEvent
	EventSensorSampled

	// Bus events
	EventIPMIDispatched

	// Hardware agent events
	EventAgentConnected
	EventAgentDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventPayloadTransition:
		return "payload-transition"
	case EventSensorEvent:
		return "sensor-event"
	case EventSensorSampled:
		return "sensor-sampled"
	case EventIPMIDispatched:
		return "ipmi-dispatched"
	case EventAgentConnected:
		return "agent-connected"
	case EventAgentDisconnected:
		return "agent-disconnected"
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// TransitionEvent is emitted for every payload state change.
type TransitionEvent struct {
	payload.EventRecord
}

// SensorEventEvent is emitted when the sensor repository raises an event.
type SensorEventEvent struct {
	sdr.Event
}

// SensorSampledEvent is emitted after the sampler stores a new reading.
type SensorSampledEvent struct {
	Record sdr.Record `json:"record"`
}

// IPMIDispatchedEvent is emitted after every resolved bus request.
type IPMIDispatchedEvent struct {
	NetFn   uint8  `json:"netfn"`
	Cmd     uint8  `json:"cmd"`
	Channel uint8  `json:"channel"`
	CC      uint8  `json:"cc"`
	Source  string `json:"source"`
}

// AgentEvent is emitted on hardware agent connection changes.
type AgentEvent struct {
	URL       string `json:"url,omitempty"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}
