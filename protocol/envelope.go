package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination.
type Address struct {
	Role  string `json:"role"`
	Node  string `json:"node"`
	Shelf string `json:"shelf,omitempty"`
}

// Envelope is the wrapper for every message on the management bus.
type Envelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Src       Address         `json:"src"`
	Dst       Address         `json:"dst"`
	Timestamp time.Time       `json:"ts"`
	ExpiresAt time.Time       `json:"exp"`
	CorID     string          `json:"cor,omitempty"`
	Payload   json.RawMessage `json:"p"`
}

// RawHeader is decoded first so routing and expiry checks skip the payload.
type RawHeader struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Dst       Address   `json:"dst"`
	ExpiresAt time.Time `json:"exp"`
}

// NewEnvelope creates an outbound envelope stamped now with the default TTL
// for msgType.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	return newEnvelopeAt(time.Now().UTC(), msgType, src, dst, payload)
}

func newEnvelopeAt(now time.Time, msgType string, src, dst Address, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.New().String(),
		Src:       src,
		Dst:       dst,
		Timestamp: now,
		ExpiresAt: now.Add(DefaultTTLFor(msgType)),
		Payload:   p,
	}, nil
}

// ReplyTo answers req: the reply goes back to req's source, carries req's ID
// as its correlation id and never outlives the request.
func ReplyTo(req *Envelope, msgType string, src Address, payload any) (*Envelope, error) {
	env, err := newEnvelopeAt(time.Now().UTC(), msgType, src, req.Src, payload)
	if err != nil {
		return nil, err
	}
	env.CorID = req.ID
	if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(env.ExpiresAt) {
		env.ExpiresAt = req.ExpiresAt
	}
	return env, nil
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the raw payload into target. A missing or null
// payload is an error.
func (e *Envelope) DecodePayload(target any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("%s %s: empty payload", e.Type, e.ID)
	}
	return json.Unmarshal(e.Payload, target)
}
