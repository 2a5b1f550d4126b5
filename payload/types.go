package payload

import (
	"errors"
	"time"
)

var (
	ErrBusy         = errors.New("slot busy")
	ErrGuardFailed  = errors.New("guard failed")
	ErrTimeout      = errors.New("timeout")
	ErrUnknownSlot  = errors.New("unknown slot")
	ErrInvalidState = errors.New("invalid state for request")
	ErrPowerLost    = errors.New("power good lost")
)

// State is the payload power state of one slot.
type State uint8

const (
	NoPower State = iota
	PowerGoodWait
	FpgaSetup
	FpgaOn
	SwitchingOff
	Quiesced
	Reset

	numStates
)

var stateNames = [numStates]string{
	NoPower:       "no_power",
	PowerGoodWait: "power_good_wait",
	FpgaSetup:     "fpga_setup",
	FpgaOn:        "fpga_on",
	SwitchingOff:  "switching_off",
	Quiesced:      "quiesced",
	Reset:         "reset",
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool { return s < numStates }

func (s State) String() string {
	if !s.Valid() {
		return "invalid"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// States returns every defined state in order.
func States() []State {
	out := make([]State, 0, numStates)
	for s := NoPower; s < numStates; s++ {
		out = append(out, s)
	}
	return out
}

// Target is the last operation requested of a slot.
type Target uint8

const (
	TargetNone Target = iota
	TargetPowerOn
	TargetPowerOff
	TargetReset
)

func (t Target) String() string {
	switch t {
	case TargetPowerOn:
		return "power_on"
	case TargetPowerOff:
		return "power_off"
	case TargetReset:
		return "reset"
	}
	return "none"
}

// MarshalText encodes the target by name.
func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// HandlePosition is the hotswap handle (latch) position.
type HandlePosition uint8

const (
	Extracted HandlePosition = iota
	Inserted
)

func (h HandlePosition) String() string {
	if h == Inserted {
		return "inserted"
	}
	return "extracted"
}

// MarshalText encodes the handle position by name.
func (h HandlePosition) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// Intent is a handle-driven request that waits until the slot reaches a state
// that can act on it. The latest handle edge wins.
type Intent uint8

const (
	IntentNone Intent = iota
	IntentActivate
	IntentDeactivate
)

func (i Intent) String() string {
	switch i {
	case IntentActivate:
		return "activate"
	case IntentDeactivate:
		return "deactivate"
	}
	return "none"
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// Fault records why a fallback transition happened.
type Fault string

const (
	FaultNone        Fault = ""
	FaultTimeout     Fault = "timeout"
	FaultGuardFailed Fault = "guard_failed"
	FaultPowerLost   Fault = "power_lost"
)

// Err maps a fault to its sentinel error, or nil.
func (f Fault) Err() error {
	switch f {
	case FaultTimeout:
		return ErrTimeout
	case FaultGuardFailed:
		return ErrGuardFailed
	case FaultPowerLost:
		return ErrPowerLost
	}
	return nil
}

// SetupStatus is the FPGA bring-up status read from the board.
type SetupStatus struct {
	ClockConfigured  bool `json:"clock_configured"`
	BootImagePresent bool `json:"boot_image_present"`
	Done             bool `json:"done"`
}

// Complete reports whether the FPGA is configured and running.
func (s SetupStatus) Complete() bool {
	return s.ClockConfigured && s.BootImagePresent && s.Done
}

// ActivationPolicy holds the PICMG FRU activation policy bits.
type ActivationPolicy struct {
	Locked             bool `json:"locked"`
	DeactivationLocked bool `json:"deactivation_locked"`
}

// Policy bit positions in the PICMG Set/Get FRU Activation Policy commands.
const (
	PolicyLocked             uint8 = 1 << 0
	PolicyDeactivationLocked uint8 = 1 << 1
)

// Bits encodes the policy the way Get FRU Activation Policy reports it.
func (p ActivationPolicy) Bits() uint8 {
	var b uint8
	if p.Locked {
		b |= PolicyLocked
	}
	if p.DeactivationLocked {
		b |= PolicyDeactivationLocked
	}
	return b
}

// Context is a snapshot of one slot's sequencing state.
type Context struct {
	Slot      int              `json:"slot"`
	Entity    string           `json:"entity"`
	State     State            `json:"state"`
	EnteredAt time.Time        `json:"entered_at"`
	Deadline  time.Time        `json:"deadline,omitempty"`
	Target    Target           `json:"target"`
	Handle    HandlePosition   `json:"handle"`
	Pending   Intent           `json:"pending,omitempty"`
	PowerGood bool             `json:"power_good"`
	Policy    ActivationPolicy `json:"policy"`
	LastFault Fault            `json:"last_fault,omitempty"`
}

// EventRecord describes one state transition.
type EventRecord struct {
	ID        string    `json:"id"`
	Slot      int       `json:"slot"`
	Entity    string    `json:"entity"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Target    Target    `json:"target"`
	Fault     Fault     `json:"fault,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hotswap sensor offsets.
const (
	HotswapHandleClosed         uint8 = 0
	HotswapHandleOpened         uint8 = 1
	HotswapQuiesced             uint8 = 2
	HotswapBackendPowerFailure  uint8 = 3
	HotswapBackendPowerShutdown uint8 = 4
)
