package engine

import (
	"mmcd/payload"
	"mmcd/sdr"
)

// payloadEmitter adapts the engine's event queue to the payload.Emitter interface.
type payloadEmitter struct {
	e *Engine
}

func (pe *payloadEmitter) EmitTransition(rec payload.EventRecord) {
	pe.e.enqueue(Event{Type: EventPayloadTransition, Timestamp: rec.Timestamp, Payload: TransitionEvent{rec}})
}

// sensorEmitter adapts the engine's event queue to the sdr.Emitter interface.
type sensorEmitter struct {
	e *Engine
}

func (se *sensorEmitter) EmitSensorEvent(ev sdr.Event) {
	se.e.enqueue(Event{Type: EventSensorEvent, Timestamp: ev.Timestamp, Payload: SensorEventEvent{ev}})
}

// hardwareEmitter adapts the engine's event queue to the hardware.EventEmitter interface.
type hardwareEmitter struct {
	e *Engine
}

func (he *hardwareEmitter) EmitAgentConnected(url string) {
	he.e.enqueue(Event{Type: EventAgentConnected, Payload: AgentEvent{URL: url, Connected: true}})
}

func (he *hardwareEmitter) EmitAgentDisconnected(err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	he.e.enqueue(Event{Type: EventAgentDisconnected, Payload: AgentEvent{Connected: false, Error: errStr}})
}
