package hardware

import (
	"sync"
	"time"

	"mmcd/payload"
)

// SimConfig configures the simulated board.
type SimConfig struct {
	Slots          int
	PowerGoodDelay time.Duration // rail on to power good
	SetupDelay     time.Duration // power good to FPGA DONE
	Clock          func() time.Time

	// SlotSensors maps sensor ids to the slot that powers them; such sensors
	// only read while the slot's rail is on.
	SlotSensors map[uint8]int
}

type simSlot struct {
	rail       bool
	reset      bool
	railAt     time.Time
	handle     payload.HandlePosition
	pgFault    bool
	setupFault bool
	resets     int
}

// SimSlotStatus is a snapshot of one simulated slot's lines.
type SimSlotStatus struct {
	Slot       int    `json:"slot"`
	Rail       bool   `json:"rail"`
	Reset      bool   `json:"reset"`
	PowerGood  bool   `json:"power_good"`
	Handle     string `json:"handle"`
	PGFault    bool   `json:"pg_fault"`
	SetupFault bool   `json:"setup_fault"`
	Resets     int    `json:"resets"`
}

// Sim is an in-process board. Power good follows the rail after
// PowerGoodDelay and the FPGA reports DONE SetupDelay later.
type Sim struct {
	mu      sync.Mutex
	cfg     SimConfig
	slots   []simSlot
	sensors map[uint8]uint16
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	return &Sim{
		cfg:     cfg,
		slots:   make([]simSlot, cfg.Slots),
		sensors: make(map[uint8]uint16),
	}
}

func (s *Sim) slot(i int) *simSlot {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	return &s.slots[i]
}

func (s *Sim) AssertPowerRail(slot int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slot(slot)
	if sl == nil {
		return
	}
	if on && !sl.rail {
		sl.railAt = s.cfg.Clock()
	}
	sl.rail = on
}

func (s *Sim) AssertReset(slot int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slot(slot)
	if sl == nil {
		return
	}
	if on && !sl.reset {
		sl.resets++
	}
	sl.reset = on
}

func (s *Sim) powerGood(sl *simSlot, now time.Time) bool {
	return sl.rail && !sl.pgFault && now.Sub(sl.railAt) >= s.cfg.PowerGoodDelay
}

func (s *Sim) ReadPowerGood(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slot(slot)
	if sl == nil {
		return false
	}
	return s.powerGood(sl, s.cfg.Clock())
}

func (s *Sim) ReadHandlePosition(slot int) payload.HandlePosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slot(slot)
	if sl == nil {
		return payload.Extracted
	}
	return sl.handle
}

func (s *Sim) ReadSetupStatus(slot int) payload.SetupStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slot(slot)
	if sl == nil {
		return payload.SetupStatus{}
	}
	now := s.cfg.Clock()
	pg := s.powerGood(sl, now)
	return payload.SetupStatus{
		ClockConfigured:  pg,
		BootImagePresent: pg && !sl.setupFault,
		Done: pg && !sl.setupFault && !sl.reset &&
			now.Sub(sl.railAt) >= s.cfg.PowerGoodDelay+s.cfg.SetupDelay,
	}
}

// ReadSensor returns the value set with SetSensor. Sensors bound to a slot
// read only while that slot has power good.
func (s *Sim) ReadSensor(id uint8) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sensors[id]
	if !ok {
		return 0, false
	}
	if slot, bound := s.cfg.SlotSensors[id]; bound {
		sl := s.slot(slot)
		if sl == nil || !s.powerGood(sl, s.cfg.Clock()) {
			return 0, false
		}
	}
	return v, true
}

// SetHandle moves the hotswap handle of a slot.
func (s *Sim) SetHandle(slot int, pos payload.HandlePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slot(slot); sl != nil {
		sl.handle = pos
	}
}

// SetPowerGoodFault forces power good low while set.
func (s *Sim) SetPowerGoodFault(slot int, fault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slot(slot); sl != nil {
		sl.pgFault = fault
	}
}

// SetSetupFault makes the FPGA never report a boot image or DONE.
func (s *Sim) SetSetupFault(slot int, fault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slot(slot); sl != nil {
		sl.setupFault = fault
	}
}

func (s *Sim) SetSensor(id uint8, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[id] = value
}

func (s *Sim) ClearSensor(id uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sensors, id)
}

// Status returns a snapshot of every slot.
func (s *Sim) Status() []SimSlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Clock()
	out := make([]SimSlotStatus, len(s.slots))
	for i := range s.slots {
		sl := &s.slots[i]
		out[i] = SimSlotStatus{
			Slot:       i,
			Rail:       sl.rail,
			Reset:      sl.reset,
			PowerGood:  s.powerGood(sl, now),
			Handle:     sl.handle.String(),
			PGFault:    sl.pgFault,
			SetupFault: sl.setupFault,
			Resets:     sl.resets,
		}
	}
	return out
}
