package payload

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SlotConfig binds a slot to its owning entity and the sensors that report its state.
type SlotConfig struct {
	Entity        string
	StateSensor   uint8
	HotswapSensor uint8
}

// Timing holds the board-specific sequencing deadlines.
type Timing struct {
	PowerGoodTimeout          time.Duration
	SetupTimeout              time.Duration
	QuiesceTimeout            time.Duration
	PowerDownTimeout          time.Duration
	DischargeDelay            time.Duration
	ResetPulseOnForcedQuiesce bool
}

// Config holds the parameters needed to create a Sequencer.
type Config struct {
	Timing  Timing
	Slots   []SlotConfig
	Clock   func() time.Time
	LogFunc func(format string, args ...interface{})
}

type slot struct {
	mu    sync.Mutex
	state atomic.Uint32
	cfg   SlotConfig
	ctx   Context // guarded by mu
}

// Sequencer drives the payload power state machine of every slot. Each slot has its
// own critical section; operations never wait for it and report ErrBusy instead.
type Sequencer struct {
	hw      HardwarePort
	sensors SensorSink
	emitter Emitter
	timing  Timing
	clock   func() time.Time
	logFn   func(format string, args ...interface{})
	slots   []*slot
}

// NewSequencer creates a sequencer with every slot in NoPower and the handle latch
// at Extracted, so a handle already closed at start-up is seen as an insertion.
func NewSequencer(c Config, hw HardwarePort, sensors SensorSink, emitter Emitter) *Sequencer {
	clock := c.Clock
	if clock == nil {
		clock = time.Now
	}
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	s := &Sequencer{
		hw:      hw,
		sensors: sensors,
		emitter: emitter,
		timing:  c.Timing,
		clock:   clock,
		logFn:   logFn,
		slots:   make([]*slot, len(c.Slots)),
	}
	now := clock()
	for i, sc := range c.Slots {
		sl := &slot{cfg: sc}
		sl.ctx = Context{Slot: i, Entity: sc.Entity, State: NoPower, EnteredAt: now, Handle: Extracted}
		sl.state.Store(uint32(NoPower))
		s.slots[i] = sl
	}
	return s
}

// Slots returns the number of slots.
func (s *Sequencer) Slots() int { return len(s.slots) }

func (s *Sequencer) slot(i int) (*slot, error) {
	if i < 0 || i >= len(s.slots) {
		return nil, fmt.Errorf("slot %d: %w", i, ErrUnknownSlot)
	}
	return s.slots[i], nil
}

// acquire looks up the slot and enters its critical section without waiting.
func (s *Sequencer) acquire(i int) (*slot, error) {
	sl, err := s.slot(i)
	if err != nil {
		return nil, err
	}
	if !sl.mu.TryLock() {
		return nil, fmt.Errorf("slot %d: %w", i, ErrBusy)
	}
	return sl, nil
}

// CurrentState returns the slot's state without entering its critical section.
// Unknown slots report NoPower.
func (s *Sequencer) CurrentState(i int) State {
	sl, err := s.slot(i)
	if err != nil {
		return NoPower
	}
	return State(sl.state.Load())
}

// Context returns a copy of the slot's full context.
func (s *Sequencer) Context(i int) (Context, error) {
	sl, err := s.slot(i)
	if err != nil {
		return Context{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.ctx, nil
}

// RequestPowerOn starts activation from NoPower. It is a no-op while FpgaOn.
func (s *Sequencer) RequestPowerOn(i int) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	switch sl.ctx.State {
	case NoPower:
		sl.ctx.Pending = IntentNone
		s.startPowerUp(sl, s.clock(), TargetPowerOn)
		return nil
	case FpgaOn:
		return nil
	default:
		return fmt.Errorf("slot %d in %s: %w", i, sl.ctx.State, ErrBusy)
	}
}

// RequestPowerOff starts deactivation from FpgaOn, or cancels a pending PowerGoodWait.
func (s *Sequencer) RequestPowerOff(i int) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	now := s.clock()
	switch sl.ctx.State {
	case NoPower:
		sl.ctx.Pending = IntentNone
		return nil
	case PowerGoodWait:
		sl.ctx.Pending = IntentNone
		s.hw.AssertPowerRail(i, false)
		sl.ctx.Target = TargetPowerOff
		s.transition(sl, NoPower, now, 0, FaultNone)
		return nil
	case FpgaOn:
		sl.ctx.Pending = IntentNone
		sl.ctx.Target = TargetPowerOff
		s.transition(sl, SwitchingOff, now, s.timing.QuiesceTimeout, FaultNone)
		return nil
	default:
		return fmt.Errorf("slot %d in %s: %w", i, sl.ctx.State, ErrBusy)
	}
}

// RequestReset holds the payload in reset with the rail off for the discharge delay,
// then leaves it in NoPower.
func (s *Sequencer) RequestReset(i int) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	if sl.ctx.State == Reset {
		return fmt.Errorf("slot %d in %s: %w", i, sl.ctx.State, ErrBusy)
	}
	s.hw.AssertReset(i, true)
	s.hw.AssertPowerRail(i, false)
	sl.ctx.Pending = IntentNone
	sl.ctx.Target = TargetReset
	s.transition(sl, Reset, s.clock(), s.timing.DischargeDelay, FaultNone)
	return nil
}

// Reboot pulses the payload reset line while the FPGA is running. The state is unchanged.
func (s *Sequencer) Reboot(i int) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	if sl.ctx.State != FpgaOn {
		return fmt.Errorf("slot %d in %s: %w", i, sl.ctx.State, ErrInvalidState)
	}
	s.hw.AssertReset(i, true)
	s.hw.AssertReset(i, false)
	s.logFn("payload: slot %d reboot pulse", i)
	return nil
}

// AcknowledgeQuiesce records that the payload has finished shutting down.
func (s *Sequencer) AcknowledgeQuiesce(i int) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	if sl.ctx.State != SwitchingOff {
		return fmt.Errorf("slot %d in %s: %w", i, sl.ctx.State, ErrInvalidState)
	}
	now := s.clock()
	if !now.Before(sl.ctx.Deadline) {
		s.forceQuiesce(sl, now)
		return nil
	}
	s.enterQuiesced(sl, now, FaultNone)
	return nil
}

// SetActivationPolicy updates the policy bits selected by mask.
func (s *Sequencer) SetActivationPolicy(i int, mask, bits uint8) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	if mask&PolicyLocked != 0 {
		sl.ctx.Policy.Locked = bits&PolicyLocked != 0
	}
	if mask&PolicyDeactivationLocked != 0 {
		sl.ctx.Policy.DeactivationLocked = bits&PolicyDeactivationLocked != 0
	}
	return nil
}

// ActivationPolicy returns the slot's activation policy.
func (s *Sequencer) ActivationPolicy(i int) (ActivationPolicy, error) {
	sl, err := s.slot(i)
	if err != nil {
		return ActivationPolicy{}, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.ctx.Policy, nil
}

// Tick advances one slot: it samples the handle, power-good and setup status and
// applies at most one state transition. A handle edge the current state cannot
// act on is kept as the slot's pending intent until one that can. Every deadline compares against now; a
// deadline equal to now has expired.
func (s *Sequencer) Tick(i int, now time.Time) error {
	sl, err := s.acquire(i)
	if err != nil {
		return err
	}
	defer sl.mu.Unlock()

	handle := s.hw.ReadHandlePosition(i)
	if handle != sl.ctx.Handle {
		sl.ctx.Handle = handle
		if handle == Inserted {
			sl.ctx.Pending = IntentActivate
			s.postHotswap(sl, HotswapHandleClosed)
		} else {
			sl.ctx.Pending = IntentDeactivate
			s.postHotswap(sl, HotswapHandleOpened)
		}
	}
	pg := s.hw.ReadPowerGood(i)
	sl.ctx.PowerGood = pg
	expired := !now.Before(sl.ctx.Deadline)
	activate := sl.ctx.Pending == IntentActivate
	deactivate := sl.ctx.Pending == IntentDeactivate

	switch sl.ctx.State {
	case NoPower:
		switch {
		case deactivate:
			sl.ctx.Pending = IntentNone
		case activate && !sl.ctx.Policy.Locked:
			sl.ctx.Pending = IntentNone
			s.startPowerUp(sl, now, TargetPowerOn)
		}

	case PowerGoodWait:
		switch {
		case deactivate:
			sl.ctx.Pending = IntentNone
			s.hw.AssertPowerRail(i, false)
			sl.ctx.Target = TargetPowerOff
			s.transition(sl, NoPower, now, 0, FaultNone)
		case expired:
			s.hw.AssertPowerRail(i, false)
			s.transition(sl, NoPower, now, 0, FaultTimeout)
		case pg:
			s.transition(sl, FpgaSetup, now, s.timing.SetupTimeout, FaultNone)
		}

	case FpgaSetup:
		switch {
		case !pg:
			s.powerLost(sl, now)
		case expired:
			s.hw.AssertPowerRail(i, false)
			s.transition(sl, NoPower, now, 0, FaultGuardFailed)
		case s.hw.ReadSetupStatus(i).Complete():
			s.transition(sl, FpgaOn, now, 0, FaultNone)
		}

	case FpgaOn:
		if activate {
			sl.ctx.Pending = IntentNone
		}
		switch {
		case !pg:
			s.powerLost(sl, now)
		case deactivate && !sl.ctx.Policy.DeactivationLocked:
			sl.ctx.Pending = IntentNone
			sl.ctx.Target = TargetPowerOff
			s.transition(sl, SwitchingOff, now, s.timing.QuiesceTimeout, FaultNone)
		}

	case SwitchingOff:
		if expired {
			s.forceQuiesce(sl, now)
		}

	case Quiesced:
		switch {
		case !pg:
			s.transition(sl, NoPower, now, 0, FaultNone)
		case expired:
			s.transition(sl, NoPower, now, 0, FaultTimeout)
		}

	case Reset:
		if expired {
			s.hw.AssertReset(i, false)
			s.transition(sl, NoPower, now, 0, FaultNone)
		}
	}
	return nil
}

// TickAll ticks every slot and returns the number of slots skipped as busy.
func (s *Sequencer) TickAll(now time.Time) int {
	busy := 0
	for i := range s.slots {
		if err := s.Tick(i, now); err != nil {
			busy++
		}
	}
	return busy
}

func (s *Sequencer) startPowerUp(sl *slot, now time.Time, target Target) {
	s.hw.AssertPowerRail(sl.ctx.Slot, true)
	sl.ctx.Target = target
	s.transition(sl, PowerGoodWait, now, s.timing.PowerGoodTimeout, FaultNone)
}

func (s *Sequencer) powerLost(sl *slot, now time.Time) {
	s.postHotswap(sl, HotswapBackendPowerFailure)
	s.transition(sl, SwitchingOff, now, s.timing.QuiesceTimeout, FaultPowerLost)
}

func (s *Sequencer) forceQuiesce(sl *slot, now time.Time) {
	if s.timing.ResetPulseOnForcedQuiesce {
		s.hw.AssertReset(sl.ctx.Slot, true)
		s.hw.AssertReset(sl.ctx.Slot, false)
	}
	s.enterQuiesced(sl, now, FaultTimeout)
}

func (s *Sequencer) enterQuiesced(sl *slot, now time.Time, fault Fault) {
	s.hw.AssertPowerRail(sl.ctx.Slot, false)
	s.postHotswap(sl, HotswapQuiesced)
	s.transition(sl, Quiesced, now, s.timing.PowerDownTimeout, fault)
}

// transition applies a state change: it updates the context, emits exactly one
// event and posts the new state to the slot's sensors. Caller holds sl.mu.
func (s *Sequencer) transition(sl *slot, to State, now time.Time, timeout time.Duration, fault Fault) {
	from := sl.ctx.State
	sl.ctx.State = to
	sl.ctx.EnteredAt = now
	sl.ctx.Deadline = time.Time{}
	if timeout > 0 {
		sl.ctx.Deadline = now.Add(timeout)
	}
	if fault != FaultNone {
		sl.ctx.LastFault = fault
	}
	sl.state.Store(uint32(to))

	if fault != FaultNone {
		s.logFn("payload: slot %d %s -> %s (%s)", sl.ctx.Slot, from, to, fault)
	} else {
		s.logFn("payload: slot %d %s -> %s", sl.ctx.Slot, from, to)
	}

	if s.sensors != nil {
		if err := s.sensors.PostDiscreteEvent(sl.cfg.StateSensor, uint8(to)); err != nil {
			s.logFn("payload: slot %d post state sensor: %v", sl.ctx.Slot, err)
		}
		if to == NoPower {
			s.sensors.InvalidateOwner(sl.cfg.Entity)
			if from == Quiesced {
				s.postHotswap(sl, HotswapBackendPowerShutdown)
			}
		}
	}

	if s.emitter != nil {
		s.emitter.EmitTransition(EventRecord{
			ID:        uuid.NewString(),
			Slot:      sl.ctx.Slot,
			Entity:    sl.cfg.Entity,
			From:      from,
			To:        to,
			Target:    sl.ctx.Target,
			Fault:     fault,
			Timestamp: now,
		})
	}
}

func (s *Sequencer) postHotswap(sl *slot, offset uint8) {
	if s.sensors == nil {
		return
	}
	if err := s.sensors.PostDiscreteEvent(sl.cfg.HotswapSensor, offset); err != nil {
		s.logFn("payload: slot %d post hotswap sensor: %v", sl.ctx.Slot, err)
	}
}
