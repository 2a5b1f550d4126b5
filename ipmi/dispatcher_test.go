package ipmi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mmcd/payload"
	"mmcd/sdr"

	"github.com/google/uuid"
)

// stubPayload records the calls made by the handlers.
// netFnTest is a network function no production handler registers.
const netFnTest uint8 = 0x32

type stubPayload struct {
	mu     sync.Mutex
	calls  []string
	err    error
	policy payload.ActivationPolicy
}

func (p *stubPayload) record(name string, slot int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot != 0 {
		return fmt.Errorf("slot %d: %w", slot, payload.ErrUnknownSlot)
	}
	p.calls = append(p.calls, name)
	return p.err
}

func (p *stubPayload) getCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.calls))
	copy(cp, p.calls)
	return cp
}

func (p *stubPayload) Slots() int                     { return 1 }
func (p *stubPayload) RequestPowerOn(slot int) error  { return p.record("power_on", slot) }
func (p *stubPayload) RequestPowerOff(slot int) error { return p.record("power_off", slot) }
func (p *stubPayload) RequestReset(slot int) error    { return p.record("reset", slot) }
func (p *stubPayload) Reboot(slot int) error          { return p.record("reboot", slot) }

func (p *stubPayload) SetActivationPolicy(slot int, mask, bits uint8) error {
	if err := p.record("set_policy", slot); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if mask&payload.PolicyLocked != 0 {
		p.policy.Locked = bits&payload.PolicyLocked != 0
	}
	if mask&payload.PolicyDeactivationLocked != 0 {
		p.policy.DeactivationLocked = bits&payload.PolicyDeactivationLocked != 0
	}
	return nil
}

func (p *stubPayload) ActivationPolicy(slot int) (payload.ActivationPolicy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy, nil
}

type testEnv struct {
	d    *Dispatcher
	svc  *Service
	pc   *stubPayload
	repo *sdr.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := sdr.New([]sdr.Descriptor{
		{ID: 0, Name: "HOTSWAP", Kind: sdr.Discrete, Owner: "payload-0", EventEnable: 0x1F},
		{ID: 2, Name: "FPGA TEMP", Kind: sdr.Threshold, Owner: "payload-0", EventEnable: 0x0285, DeassertEnable: 0x0285,
			Thresholds: sdr.Thresholds{UpperNonCritical: 75, UpperCritical: 85}},
	}, nil)
	if err != nil {
		t.Fatalf("sdr.New: %v", err)
	}
	pc := &stubPayload{}
	svc := NewService(DeviceInfo{
		DeviceID:       0x0A,
		DeviceRevision: 0x02,
		FirmwareMajor:  0x05,
		FirmwareMinor:  0x50,
		ManufacturerID: 0x00315A,
		ProductID:      0x0101,
		GUID:           uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff"),
	}, pc, repo, 0x20)
	d := NewDispatcher(t.Logf, WithChannel(0, PrivAdmin), WithChannel(7, PrivUser))
	svc.Register(d)
	return &testEnv{d: d, svc: svc, pc: pc, repo: repo}
}

func (e *testEnv) send(netFn, cmd uint8, data ...byte) Response {
	return e.d.Dispatch(context.Background(), Request{NetFn: netFn, Cmd: cmd, Data: data})
}

func TestUnknownCommand(t *testing.T) {
	e := newTestEnv(t)
	e.repo.UpdateReading(2, 40)
	before, _ := e.repo.FindByID(2)

	resp := e.send(netFnTest, 0x7F, 0x01)
	if resp.CC != CCInvalidCommand {
		t.Fatalf("cc = %s, want invalid command", resp.CC)
	}
	if resp := e.send(NetFnApp, 0x55); resp.CC != CCInvalidCommand {
		t.Fatalf("cc = %s, want invalid command", resp.CC)
	}

	if calls := e.pc.getCalls(); len(calls) != 0 {
		t.Errorf("payload calls = %v, want none", calls)
	}
	after, _ := e.repo.FindByID(2)
	if after.Reading != before.Reading {
		t.Errorf("reading changed: %+v -> %+v", before.Reading, after.Reading)
	}
}

func TestLengthAndPrivilegeChecks(t *testing.T) {
	e := newTestEnv(t)

	if resp := e.send(NetFnSE, CmdGetSensorReading); resp.CC != CCReqDataInvalidLength {
		t.Errorf("short request cc = %s", resp.CC)
	}
	if resp := e.send(NetFnSE, CmdGetSensorReading, 2, 0); resp.CC != CCReqDataInvalidLength {
		t.Errorf("long request cc = %s", resp.CC)
	}
	big := make([]byte, MaxDataLen+1)
	if resp := e.send(NetFnApp, CmdGetDeviceID, big...); resp.CC != CCReqDataInvalidLength {
		t.Errorf("oversized request cc = %s", resp.CC)
	}

	resp := e.d.Dispatch(context.Background(), Request{
		NetFn: NetFnGrpExt, Cmd: CmdFRUControl, Channel: 7, Data: []byte{0x00, 0x00, FRUColdReset},
	})
	if resp.CC != CCInsufficientPrivilege {
		t.Errorf("user-channel FRU control cc = %s", resp.CC)
	}
	if calls := e.pc.getCalls(); len(calls) != 0 {
		t.Errorf("payload calls = %v", calls)
	}
}

func TestCompletionFor(t *testing.T) {
	tests := []struct {
		err  error
		want CompletionCode
	}{
		{nil, CCOK},
		{fmt.Errorf("x: %w", payload.ErrBusy), CCNodeBusy},
		{fmt.Errorf("x: %w", payload.ErrInvalidState), CCNotSupportedPresentState},
		{fmt.Errorf("x: %w", payload.ErrUnknownSlot), CCInvalidDataField},
		{fmt.Errorf("x: %w", sdr.ErrUnknownSensor), CCReqDataNotPresent},
		{ErrInvalidLength, CCReqDataInvalidLength},
		{ErrInvalidField, CCInvalidDataField},
		{Fail(CCNotSupportedPresentState, "bad"), CCNotSupportedPresentState},
		{errors.New("boom"), CCUnspecifiedError},
	}
	for _, tc := range tests {
		if got := CompletionFor(tc.err); got != tc.want {
			t.Errorf("CompletionFor(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	e := newTestEnv(t)
	e.d.Register(netFnTest, 0x01, Route{Handler: HandlerFunc(func(context.Context, Request) ([]byte, error) {
		panic("bad handler")
	})})
	if resp := e.send(netFnTest, 0x01); resp.CC != CCUnspecifiedError {
		t.Fatalf("cc = %s, want unspecified error", resp.CC)
	}
	// dispatcher still serves afterwards
	if resp := e.send(NetFnApp, CmdGetDeviceID); resp.CC != CCOK {
		t.Fatalf("cc after panic = %s", resp.CC)
	}
}

func TestCanceledContext(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := e.d.Dispatch(ctx, Request{NetFn: NetFnApp, Cmd: CmdGetDeviceID})
	if resp.CC != CCTimeout {
		t.Fatalf("cc = %s, want timeout", resp.CC)
	}
}

func TestGetDeviceID(t *testing.T) {
	e := newTestEnv(t)
	resp := e.send(NetFnApp, CmdGetDeviceID)
	want := []byte{0x0A, 0x82, 0x05, 0x50, 0x02, 0x3B, 0x5A, 0x31, 0x00, 0x01, 0x01}
	if resp.CC != CCOK || string(resp.Data) != string(want) {
		t.Fatalf("resp = %s % x, want % x", resp.CC, resp.Data, want)
	}

	resp = e.send(NetFnApp, CmdGetDeviceGUID)
	if len(resp.Data) != 16 || resp.Data[0] != 0xFF || resp.Data[15] != 0x00 {
		t.Fatalf("guid = % x", resp.Data)
	}
}

func TestSensorReading(t *testing.T) {
	e := newTestEnv(t)

	resp := e.send(NetFnSE, CmdGetSensorReading, 2)
	if resp.CC != CCOK || resp.Data[1]&readingUnavailable == 0 {
		t.Fatalf("unread sensor = %s % x, want unavailable flag", resp.CC, resp.Data)
	}

	e.repo.UpdateReading(2, 80)
	resp = e.send(NetFnSE, CmdGetSensorReading, 2)
	if resp.CC != CCOK || len(resp.Data) != 3 {
		t.Fatalf("resp = %s % x", resp.CC, resp.Data)
	}
	if resp.Data[0] != 80 || resp.Data[1] != 0xC0 || resp.Data[2] != 0xC0|byte(sdr.UpperNonCritical) {
		t.Errorf("threshold reading = % x", resp.Data)
	}

	e.repo.PostDiscreteEvent(0, 2)
	resp = e.send(NetFnSE, CmdGetSensorReading, 0)
	if resp.CC != CCOK || resp.Data[0] != 0x00 || resp.Data[1] != 0xC0 || resp.Data[2] != 0x04 {
		t.Errorf("discrete reading = % x", resp.Data)
	}

	if resp := e.send(NetFnSE, CmdGetSensorReading, 9); resp.CC != CCReqDataNotPresent {
		t.Errorf("unknown sensor cc = %s", resp.CC)
	}
}

func TestSensorEventEnable(t *testing.T) {
	e := newTestEnv(t)

	// disable selected bit 7, messages stay on
	if resp := e.send(NetFnSE, CmdSetSensorEventEnable, 2, 0x80|eventActionDisable, 0x80, 0x00); resp.CC != CCOK {
		t.Fatalf("set cc = %s", resp.CC)
	}
	resp := e.send(NetFnSE, CmdGetSensorEventEnable, 2)
	want := []byte{0xC0, 0x05, 0x02, 0x85, 0x02}
	if resp.CC != CCOK || !bytes.Equal(resp.Data, want) {
		t.Fatalf("get = %s % x, want % x", resp.CC, resp.Data, want)
	}

	// deassertion bytes act on the deassertion mask only
	if resp := e.send(NetFnSE, CmdSetSensorEventEnable, 2, 0x80|eventActionDisable, 0x00, 0x00, 0x00, 0x02); resp.CC != CCOK {
		t.Fatalf("set deassert cc = %s", resp.CC)
	}
	m, _ := e.repo.EventEnable(2)
	if m.Assert != 0x0205 || m.Deassert != 0x0085 {
		t.Errorf("masks = %#x %#x, want 0x205 0x85", m.Assert, m.Deassert)
	}

	// messages off
	e.send(NetFnSE, CmdSetSensorEventEnable, 2, 0x00)
	m, _ = e.repo.EventEnable(2)
	if m.Messages || m.Assert != 0x0205 {
		t.Errorf("enable = %+v", m)
	}

	if resp := e.send(NetFnSE, CmdSetSensorEventEnable, 2, 0x30); resp.CC != CCInvalidDataField {
		t.Errorf("reserved action cc = %s", resp.CC)
	}
	if resp := e.send(NetFnSE, CmdGetSensorEventEnable, 42); resp.CC != CCReqDataNotPresent {
		t.Errorf("unknown sensor cc = %s", resp.CC)
	}
}

func TestEventReceiver(t *testing.T) {
	e := newTestEnv(t)
	if _, _, on := e.svc.EventReceiver(); !on {
		t.Fatal("receiver disabled by default")
	}
	e.send(NetFnSE, CmdSetEventReceiver, 0x82, 0x01)
	resp := e.send(NetFnSE, CmdGetEventReceiver)
	if resp.CC != CCOK || resp.Data[0] != 0x82 || resp.Data[1] != 0x01 {
		t.Fatalf("get receiver = % x", resp.Data)
	}
	e.send(NetFnSE, CmdSetEventReceiver, EventReceiverDisabled, 0x00)
	if _, _, on := e.svc.EventReceiver(); on {
		t.Error("0xFF did not disable events")
	}
}

func TestReserveAndSDRInfo(t *testing.T) {
	e := newTestEnv(t)
	r1 := e.send(NetFnSE, CmdReserveDeviceSDR)
	r2 := e.send(NetFnSE, CmdReserveDeviceSDR)
	id1 := uint16(r1.Data[0]) | uint16(r1.Data[1])<<8
	id2 := uint16(r2.Data[0]) | uint16(r2.Data[1])<<8
	if id1 == 0 || id2 == 0 || id1 == id2 {
		t.Errorf("reservations = %d, %d", id1, id2)
	}

	if resp := e.send(NetFnSE, CmdGetDeviceSDRInfo); resp.Data[0] != 2 || resp.Data[1] != 0x01 {
		t.Errorf("sensor count = % x", resp.Data)
	}
	if resp := e.send(NetFnSE, CmdGetDeviceSDRInfo, 0x01); resp.Data[0] != 3 {
		t.Errorf("sdr count = % x", resp.Data)
	}
}

func TestFRUControl(t *testing.T) {
	tests := []struct {
		option   uint8
		wantCall string
	}{
		{FRUColdReset, "reset"},
		{FRUWarmReset, "reboot"},
		{FRUGracefulReboot, "reboot"},
		{FRUQuiesce, "power_off"},
	}
	for _, tc := range tests {
		e := newTestEnv(t)
		resp := e.send(NetFnGrpExt, CmdFRUControl, PICMGIdentifier, 0x00, tc.option)
		if resp.CC != CCOK || len(resp.Data) != 1 || resp.Data[0] != PICMGIdentifier {
			t.Errorf("option %d: resp = %s % x", tc.option, resp.CC, resp.Data)
		}
		if calls := e.pc.getCalls(); len(calls) != 1 || calls[0] != tc.wantCall {
			t.Errorf("option %d: calls = %v, want %s", tc.option, calls, tc.wantCall)
		}
	}

	e := newTestEnv(t)
	if resp := e.send(NetFnGrpExt, CmdFRUControl, PICMGIdentifier, 0x00, FRUDiagnosticInterrupt); resp.CC != CCInvalidDataField {
		t.Errorf("diagnostic interrupt cc = %s", resp.CC)
	}
	if resp := e.send(NetFnGrpExt, CmdFRUControl, PICMGIdentifier, 0x05, FRUColdReset); resp.CC != CCInvalidDataField {
		t.Errorf("unknown fru cc = %s", resp.CC)
	}
	if resp := e.send(NetFnGrpExt, CmdFRUControl, 0x01, 0x00, FRUColdReset); resp.CC != CCInvalidDataField {
		t.Errorf("bad picmg id cc = %s", resp.CC)
	}

	e.pc.err = fmt.Errorf("slot 0: %w", payload.ErrBusy)
	if resp := e.send(NetFnGrpExt, CmdSetFRUActivation, PICMGIdentifier, 0x00, 0x01); resp.CC != CCNodeBusy {
		t.Errorf("busy activation cc = %s", resp.CC)
	}

	resp := e.send(NetFnGrpExt, CmdFRUControlCapabilities, PICMGIdentifier, 0x00)
	if resp.CC != CCOK || resp.Data[1] != 0x06 {
		t.Errorf("capabilities = % x", resp.Data)
	}
}

func TestActivationPolicy(t *testing.T) {
	e := newTestEnv(t)
	e.send(NetFnGrpExt, CmdSetFRUActivationPolicy, PICMGIdentifier, 0x00, 0x03, 0x02)
	resp := e.send(NetFnGrpExt, CmdGetFRUActivationPolicy, PICMGIdentifier, 0x00)
	if resp.CC != CCOK || resp.Data[1] != payload.PolicyDeactivationLocked {
		t.Fatalf("policy = %s % x", resp.CC, resp.Data)
	}

	resp = e.send(NetFnGrpExt, CmdGetPICMGProperties, PICMGIdentifier)
	if resp.CC != CCOK || len(resp.Data) != 4 || resp.Data[1] != 0x23 {
		t.Errorf("properties = % x", resp.Data)
	}
}

func TestChannelSerialization(t *testing.T) {
	d := NewDispatcher(nil)
	var inFlight, maxInFlight atomic.Int32
	d.Register(netFnTest, 0x10, Route{Handler: HandlerFunc(func(context.Context, Request) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), Request{NetFn: netFnTest, Cmd: 0x10, Channel: 3})
		}()
	}
	wg.Wait()
	if maxInFlight.Load() != 1 {
		t.Fatalf("max concurrent on one channel = %d, want 1", maxInFlight.Load())
	}
}
