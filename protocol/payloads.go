package protocol

import (
	"encoding/hex"
	"encoding/json"
	"time"
)

// HexBytes is a byte slice carried as a hex string on the wire.
type HexBytes []byte

// MarshalJSON encodes b as a lowercase hex string.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON decodes a hex string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// --- Shelf -> MMC payloads ---

// IPMIRequest is one deframed management-bus request. The channel it arrived
// on belongs to the transport, not the sender.
type IPMIRequest struct {
	RqAddr uint8    `json:"rq_addr"`
	Seq    uint8    `json:"seq"`
	NetFn  uint8    `json:"netfn"`
	Cmd    uint8    `json:"cmd"`
	LUN    uint8    `json:"lun"`
	Data   HexBytes `json:"data"`
}

// --- MMC -> Shelf payloads ---

// IPMIResponse answers an IPMIRequest.
type IPMIResponse struct {
	RqAddr uint8    `json:"rq_addr"`
	Seq    uint8    `json:"seq"`
	NetFn  uint8    `json:"netfn"`
	Cmd    uint8    `json:"cmd"`
	CC     uint8    `json:"cc"`
	Data   HexBytes `json:"data,omitempty"`
}

// PlatformEvent is a sensor event forwarded to the event receiver.
type PlatformEvent struct {
	ReceiverAddr  uint8     `json:"receiver_addr"`
	ReceiverLUN   uint8     `json:"receiver_lun"`
	GeneratorAddr uint8     `json:"generator_addr"`
	EventID       string    `json:"event_id"`
	SensorType    uint8     `json:"sensor_type"`
	SensorNumber  uint8     `json:"sensor_number"`
	EventDir      uint8     `json:"event_dir"` // bit 7 set for deassertion, low bits event type
	EventData     HexBytes  `json:"event_data"`
	Timestamp     time.Time `json:"ts"`
}

// Transition reports a payload power-state change.
type Transition struct {
	EventID string    `json:"event_id"`
	Slot    int       `json:"slot"`
	Entity  string    `json:"entity"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Target  string    `json:"target"`
	Fault   string    `json:"fault,omitempty"`
	At      time.Time `json:"at"`
}

// SlotStatus is one slot's state in a heartbeat.
type SlotStatus struct {
	Slot  int    `json:"slot"`
	State string `json:"state"`
}

// Heartbeat is sent periodically by the MMC.
type Heartbeat struct {
	NodeID  string       `json:"node_id"`
	Online  bool         `json:"online"`
	Version string       `json:"version"`
	Uptime  int64        `json:"uptime_s"`
	Slots   []SlotStatus `json:"slots"`
}
