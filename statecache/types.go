package statecache

import "time"

// SlotState is the cached view of one payload slot.
type SlotState struct {
	Slot      int       `json:"slot"`
	Entity    string    `json:"entity"`
	State     string    `json:"state"`
	Target    string    `json:"target"`
	Fault     string    `json:"fault,omitempty"`
	EnteredAt time.Time `json:"entered_at"`
}

// SensorReading is the cached last reading of one sensor.
type SensorReading struct {
	ID        uint8     `json:"id"`
	Name      string    `json:"name"`
	Value     uint16    `json:"value"`
	Valid     bool      `json:"valid"`
	Status    uint8     `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
