package sdr

import (
	"errors"
	"time"
)

var (
	ErrUnknownSensor   = errors.New("unknown sensor")
	ErrDuplicateSensor = errors.New("duplicate sensor id")
)

// Kind distinguishes discrete (state mask) sensors from threshold (analog) sensors.
type Kind uint8

const (
	Discrete Kind = iota
	Threshold
)

func (k Kind) String() string {
	if k == Threshold {
		return "threshold"
	}
	return "discrete"
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "discrete", "":
		return Discrete, true
	case "threshold":
		return Threshold, true
	}
	return Discrete, false
}

// ThresholdStatus is the IPMI threshold comparison status byte.
type ThresholdStatus uint8

const (
	LowerNonCritical ThresholdStatus = 1 << iota
	LowerCritical
	LowerNonRecoverable
	UpperNonCritical
	UpperCritical
	UpperNonRecoverable
)

// Thresholds holds the raw comparison points of a threshold sensor. A zero
// value disables that comparison.
type Thresholds struct {
	LowerCritical    uint16 `json:"lower_critical"`
	LowerNonCritical uint16 `json:"lower_non_critical"`
	UpperNonCritical uint16 `json:"upper_non_critical"`
	UpperCritical    uint16 `json:"upper_critical"`
}

// Status compares a raw value against the thresholds.
func (t Thresholds) Status(v uint16) ThresholdStatus {
	var s ThresholdStatus
	if t.LowerNonCritical != 0 && v <= t.LowerNonCritical {
		s |= LowerNonCritical
	}
	if t.LowerCritical != 0 && v <= t.LowerCritical {
		s |= LowerCritical
	}
	if t.UpperNonCritical != 0 && v >= t.UpperNonCritical {
		s |= UpperNonCritical
	}
	if t.UpperCritical != 0 && v >= t.UpperCritical {
		s |= UpperCritical
	}
	return s
}

// Threshold event offsets (IPMI generic threshold event type).
const (
	OffsetLowerNonCriticalLow uint8 = 0x00
	OffsetLowerCriticalLow    uint8 = 0x02
	OffsetUpperNonCriticalHi  uint8 = 0x07
	OffsetUpperCriticalHi     uint8 = 0x09
)

// thresholdOffsets pairs each status bit with its event offset, least severe
// first.
var thresholdOffsets = []struct {
	bit    ThresholdStatus
	offset uint8
}{
	{LowerNonCritical, OffsetLowerNonCriticalLow},
	{UpperNonCritical, OffsetUpperNonCriticalHi},
	{LowerCritical, OffsetLowerCriticalLow},
	{UpperCritical, OffsetUpperCriticalHi},
}

// EventMask is a sensor's event-message flag with its assertion and
// deassertion enable masks, one bit per event offset.
type EventMask struct {
	Messages bool   `json:"messages"`
	Assert   uint16 `json:"assert"`
	Deassert uint16 `json:"deassert"`
}

// Descriptor is the static part of a sensor record. EventEnable and
// DeassertEnable are the initial assertion and deassertion masks.
type Descriptor struct {
	ID             uint8      `json:"id"`
	Name           string     `json:"name"`
	Kind           Kind       `json:"kind"`
	SensorType     uint8      `json:"sensor_type"`
	ReadingType    uint8      `json:"reading_type"`
	Owner          string     `json:"owner"`
	EventEnable    uint16     `json:"event_enable"`
	DeassertEnable uint16     `json:"deassert_enable"`
	Thresholds     Thresholds `json:"thresholds"`
}

// Reading is the current value of a sensor. Readings are replaced whole, never mutated.
type Reading struct {
	Value     uint16          `json:"value"`
	Valid     bool            `json:"valid"`
	Status    ThresholdStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Record pairs a descriptor with its current reading.
type Record struct {
	Descriptor
	Reading Reading `json:"reading"`
}

// Event is a sensor event (discrete assertion or threshold crossing).
type Event struct {
	ID        string          `json:"id"`
	SensorID  uint8           `json:"sensor_id"`
	Sensor    string          `json:"sensor"`
	Owner     string          `json:"owner"`
	Kind      Kind            `json:"kind"`
	Type      uint8           `json:"sensor_type"`
	Offset    uint8           `json:"offset"`
	Assertion bool            `json:"assertion"`
	Value     uint16          `json:"value"`
	Status    ThresholdStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Emitter receives sensor events. Emit must not block.
type Emitter interface {
	EmitSensorEvent(ev Event)
}
