package protocol

// Message type constants for the management bus.
const (
	// Shelf -> MMC (published on the request topic)
	TypeIPMIRequest = "ipmi.request"

	// MMC -> Shelf
	TypeIPMIResponse  = "ipmi.response"
	TypePlatformEvent = "event.platform"
	TypeTransition    = "event.transition"
	TypeHeartbeat     = "mmc.heartbeat"
)

// Roles for Address.Role.
const (
	RoleMMC   = "mmc"
	RoleShelf = "shelf"
)

// Protocol version.
const Version = 1
