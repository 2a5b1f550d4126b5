package protocol

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// FilterFunc reports whether a message should be decoded at all.
type FilterFunc func(hdr *RawHeader) bool

// Mux routes raw bus messages to handlers registered by message type.
// Decoding happens in two steps: the header is checked for version, expiry
// and the filter before the full envelope and payload are decoded.
type Mux struct {
	filter FilterFunc
	routes map[string]func(*Envelope) error
	now    func() time.Time
}

// NewMux creates a mux. A nil filter accepts every message.
func NewMux(filter FilterFunc) *Mux {
	return &Mux{
		filter: filter,
		routes: make(map[string]func(*Envelope) error),
		now:    time.Now,
	}
}

// Handle registers fn for msgType. The payload is decoded into a fresh T for
// each message.
func Handle[T any](m *Mux, msgType string, fn func(env *Envelope, p *T)) {
	m.routes[msgType] = func(env *Envelope) error {
		var p T
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		fn(env, &p)
		return nil
	}
}

// HandleRaw decodes and dispatches one message. Messages that are malformed,
// expired, of another protocol version or unrouted are logged and dropped.
func (m *Mux) HandleRaw(data []byte) {
	if err := m.dispatch(data); err != nil {
		log.Printf("protocol: %v", err)
	}
}

func (m *Mux) dispatch(data []byte) error {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("header decode: %w", err)
	}
	switch {
	case hdr.Version != Version:
		return fmt.Errorf("dropping %s: version %d", hdr.ID, hdr.Version)
	case hdr.Expired(m.now()):
		return fmt.Errorf("dropping expired %s (%s)", hdr.ID, hdr.Type)
	}
	if m.filter != nil && !m.filter(&hdr) {
		return nil
	}

	route, ok := m.routes[hdr.Type]
	if !ok {
		return fmt.Errorf("no route for %s (%s)", hdr.Type, hdr.ID)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope decode %s: %w", hdr.ID, err)
	}
	if err := route(&env); err != nil {
		return fmt.Errorf("payload decode %s (%s): %w", env.ID, env.Type, err)
	}
	return nil
}
