package protocol

import "time"

// Default TTLs by message type. Bus requests go stale quickly; a shelf manager
// retries rather than wait for a late answer.
var defaultTTLs = map[string]time.Duration{
	TypeIPMIRequest:  5 * time.Second,
	TypeIPMIResponse: 5 * time.Second,

	TypeHeartbeat: 90 * time.Second,

	TypePlatformEvent: 10 * time.Minute,
	TypeTransition:    10 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// Expired reports whether the envelope's expiry is at or before now.
// Envelopes without an expiry never expire.
func (e *Envelope) Expired(now time.Time) bool {
	return expired(e.ExpiresAt, now)
}

// Expired is Envelope.Expired for a header-only decode.
func (h *RawHeader) Expired(now time.Time) bool {
	return expired(h.ExpiresAt, now)
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}
