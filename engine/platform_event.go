package engine

import (
	"mmcd/protocol"
	"mmcd/sdr"
)

// Event/reading type codes for the platform event message.
const (
	eventTypeThreshold      = 0x01
	eventTypeSensorSpecific = 0x6F
	eventDirDeassertion     = 0x80
)

// Event data byte 1 flags: byte 2 holds the trigger reading, byte 3 the
// threshold that was crossed.
const thresholdEventData = 0x50

// platformEvent formats a sensor event as an IPMI platform event message.
func (e *Engine) platformEvent(ev sdr.Event) *protocol.PlatformEvent {
	pe := &protocol.PlatformEvent{
		GeneratorAddr: e.cfg.IPMI.IPMBAddress,
		EventID:       ev.ID,
		SensorType:    ev.Type,
		SensorNumber:  ev.SensorID,
		Timestamp:     ev.Timestamp,
	}

	if ev.Kind == sdr.Threshold {
		pe.EventDir = eventTypeThreshold
		var threshold uint16
		if rec, ok := e.sensors.FindByID(ev.SensorID); ok {
			threshold = thresholdFor(rec.Thresholds, ev.Offset)
		}
		pe.EventData = protocol.HexBytes{thresholdEventData | ev.Offset, clip(ev.Value), clip(threshold)}
	} else {
		pe.EventDir = eventTypeSensorSpecific
		if rec, ok := e.sensors.FindByID(ev.SensorID); ok && rec.ReadingType != 0 {
			pe.EventDir = rec.ReadingType & 0x7F
		}
		pe.EventData = protocol.HexBytes{ev.Offset, 0xFF, 0xFF}
	}
	if !ev.Assertion {
		pe.EventDir |= eventDirDeassertion
	}
	return pe
}

func thresholdFor(t sdr.Thresholds, offset uint8) uint16 {
	switch offset {
	case sdr.OffsetLowerNonCriticalLow:
		return t.LowerNonCritical
	case sdr.OffsetLowerCriticalLow:
		return t.LowerCritical
	case sdr.OffsetUpperNonCriticalHi:
		return t.UpperNonCritical
	case sdr.OffsetUpperCriticalHi:
		return t.UpperCritical
	}
	return 0
}

func clip(v uint16) uint8 {
	if v > 0xFF {
		return 0xFF
	}
	return uint8(v)
}
