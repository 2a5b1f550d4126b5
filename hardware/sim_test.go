package hardware

import (
	"testing"
	"time"

	"mmcd/payload"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time          { return c.now }
func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSim() (*Sim, *stepClock) {
	clk := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewSim(SimConfig{
		Slots:          2,
		PowerGoodDelay: 200 * time.Millisecond,
		SetupDelay:     time.Second,
		Clock:          clk.Now,
		SlotSensors:    map[uint8]int{2: 0},
	})
	return s, clk
}

func TestSimPowerUpSequence(t *testing.T) {
	s, clk := newTestSim()

	if s.ReadPowerGood(0) {
		t.Fatal("power good without rail")
	}
	s.AssertPowerRail(0, true)
	if s.ReadPowerGood(0) {
		t.Error("power good before delay")
	}
	clk.Advance(200 * time.Millisecond)
	if !s.ReadPowerGood(0) {
		t.Error("power good should follow rail after delay")
	}
	st := s.ReadSetupStatus(0)
	if !st.ClockConfigured || !st.BootImagePresent || st.Done {
		t.Errorf("setup status = %+v, want clock+image, not done", st)
	}
	clk.Advance(time.Second)
	if !s.ReadSetupStatus(0).Complete() {
		t.Error("setup should be complete")
	}
	if s.ReadPowerGood(1) {
		t.Error("slot 1 must be independent")
	}
}

func TestSimFaults(t *testing.T) {
	s, clk := newTestSim()
	s.AssertPowerRail(0, true)
	clk.Advance(2 * time.Second)

	s.SetPowerGoodFault(0, true)
	if s.ReadPowerGood(0) {
		t.Error("pg fault should force power good low")
	}
	s.SetPowerGoodFault(0, false)
	s.SetSetupFault(0, true)
	if s.ReadSetupStatus(0).Complete() {
		t.Error("setup fault should block DONE")
	}
	s.SetSetupFault(0, false)

	s.AssertReset(0, true)
	if s.ReadSetupStatus(0).Done {
		t.Error("DONE should drop while reset is asserted")
	}
	s.AssertReset(0, false)
	if got := s.Status()[0].Resets; got != 1 {
		t.Errorf("resets = %d, want 1", got)
	}
}

func TestSimHandle(t *testing.T) {
	s, _ := newTestSim()
	if s.ReadHandlePosition(0) != payload.Extracted {
		t.Error("handle should start extracted")
	}
	s.SetHandle(0, payload.Inserted)
	if s.ReadHandlePosition(0) != payload.Inserted {
		t.Error("handle should be inserted")
	}
	if s.ReadHandlePosition(9) != payload.Extracted {
		t.Error("unknown slot should read extracted")
	}
}

func TestSimSlotBoundSensor(t *testing.T) {
	s, clk := newTestSim()
	s.SetSensor(2, 45)
	s.SetSensor(3, 30)

	if _, ok := s.ReadSensor(2); ok {
		t.Error("payload sensor should not read without power")
	}
	if v, ok := s.ReadSensor(3); !ok || v != 30 {
		t.Errorf("mmc sensor = %d,%v, want 30,true", v, ok)
	}
	s.AssertPowerRail(0, true)
	clk.Advance(time.Second)
	if v, ok := s.ReadSensor(2); !ok || v != 45 {
		t.Errorf("payload sensor = %d,%v, want 45,true", v, ok)
	}
	s.ClearSensor(3)
	if _, ok := s.ReadSensor(3); ok {
		t.Error("cleared sensor should not read")
	}
}
