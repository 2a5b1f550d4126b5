package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"mmcd/config"
	"mmcd/ipmi"
	"mmcd/protocol"
	"mmcd/store"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	fail      bool
	sent      map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, sent: make(map[string][][]byte)}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.sent[topic] = append(f.sent[topic], payload)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[topic]...)
}

func decodeEnvelope(t *testing.T, data []byte) *protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return &env
}

var self = protocol.Address{Role: protocol.RoleMMC, Node: "mmc-1"}

func newTestDispatcher() *ipmi.Dispatcher {
	d := ipmi.NewDispatcher(func(string, ...interface{}) {}, ipmi.WithChannel(0, ipmi.PrivAdmin))
	d.Register(ipmi.NetFnApp, ipmi.CmdGetDeviceID, ipmi.Route{
		Handler: ipmi.HandlerFunc(func(context.Context, ipmi.Request) ([]byte, error) {
			return []byte{0x0A, 0x82}, nil
		}),
	})
	return d
}

func requestEnvelope(t *testing.T, dst protocol.Address, req *protocol.IPMIRequest) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.TypeIPMIRequest, protocol.Address{Role: protocol.RoleShelf, Node: "shmc"}, dst, req)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	data, _ := env.Encode()
	return data
}

func TestListenerAnswersRequest(t *testing.T) {
	tr := newFakeTransport()
	l := NewListener(tr, newTestDispatcher(), self, 0, "resp")

	raw := requestEnvelope(t, protocol.Address{Role: protocol.RoleMMC, Node: "mmc-1"},
		&protocol.IPMIRequest{RqAddr: 0x20, Seq: 7, NetFn: ipmi.NetFnApp, Cmd: ipmi.CmdGetDeviceID})
	l.HandleRaw(raw)

	msgs := tr.messages("resp")
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	env := decodeEnvelope(t, msgs[0])
	if env.Type != protocol.TypeIPMIResponse {
		t.Errorf("type = %q", env.Type)
	}
	reqEnv := decodeEnvelope(t, raw)
	if env.CorID != reqEnv.ID {
		t.Errorf("cor = %q, want %q", env.CorID, reqEnv.ID)
	}
	var resp protocol.IPMIResponse
	if err := env.DecodePayload(&resp); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if resp.NetFn != ipmi.NetFnApp|1 || resp.Seq != 7 || resp.RqAddr != 0x20 {
		t.Errorf("header = %+v", resp)
	}
	if resp.CC != uint8(ipmi.CCOK) || len(resp.Data) != 2 {
		t.Errorf("cc=%#x data=%x", resp.CC, resp.Data)
	}
}

func TestListenerUnknownCommand(t *testing.T) {
	tr := newFakeTransport()
	l := NewListener(tr, newTestDispatcher(), self, 0, "resp")

	l.HandleRaw(requestEnvelope(t, protocol.Address{Role: protocol.RoleMMC},
		&protocol.IPMIRequest{NetFn: ipmi.NetFnApp, Cmd: 0x77}))

	msgs := tr.messages("resp")
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	var resp protocol.IPMIResponse
	decodeEnvelope(t, msgs[0]).DecodePayload(&resp)
	if resp.CC != uint8(ipmi.CCInvalidCommand) {
		t.Errorf("cc = %#x, want 0xC1", resp.CC)
	}
}

func TestListenerUsesItsOwnChannel(t *testing.T) {
	d := ipmi.NewDispatcher(func(string, ...interface{}) {},
		ipmi.WithChannel(0, ipmi.PrivAdmin), ipmi.WithChannel(7, ipmi.PrivOperator))
	d.Register(ipmi.NetFnGrpExt, ipmi.CmdFRUControl, ipmi.Route{
		Handler: ipmi.HandlerFunc(func(context.Context, ipmi.Request) ([]byte, error) {
			return []byte{0x00}, nil
		}),
		Privilege: ipmi.PrivAdmin,
	})
	tr := newFakeTransport()
	l := NewListener(tr, d, self, 7, "resp")

	// a sender naming the admin channel gains nothing
	env, err := protocol.NewEnvelope(protocol.TypeIPMIRequest, protocol.Address{Role: protocol.RoleShelf, Node: "shmc"},
		protocol.Address{Role: protocol.RoleMMC}, map[string]interface{}{
			"netfn": ipmi.NetFnGrpExt, "cmd": ipmi.CmdFRUControl, "channel": 0,
		})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	raw, _ := env.Encode()
	l.HandleRaw(raw)

	msgs := tr.messages("resp")
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	var resp protocol.IPMIResponse
	decodeEnvelope(t, msgs[0]).DecodePayload(&resp)
	if resp.CC != uint8(ipmi.CCInsufficientPrivilege) {
		t.Errorf("cc = %#x, want 0xD4", resp.CC)
	}
}

func TestListenerIgnoresOtherNodes(t *testing.T) {
	tr := newFakeTransport()
	l := NewListener(tr, newTestDispatcher(), self, 0, "resp")

	l.HandleRaw(requestEnvelope(t, protocol.Address{Role: protocol.RoleMMC, Node: "mmc-2"},
		&protocol.IPMIRequest{NetFn: ipmi.NetFnApp, Cmd: ipmi.CmdGetDeviceID}))
	l.HandleRaw(requestEnvelope(t, protocol.Address{Role: protocol.RoleShelf},
		&protocol.IPMIRequest{NetFn: ipmi.NetFnApp, Cmd: ipmi.CmdGetDeviceID}))
	l.HandleRaw([]byte(`not json`))

	if n := len(tr.messages("resp")); n != 0 {
		t.Errorf("responses = %d, want 0", n)
	}
}

type memOutbox struct {
	mu     sync.Mutex
	msgs   []*store.OutboxMessage
	acks   []int64
	purges int
}

func (m *memOutbox) EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.msgs) + 1)
	m.msgs = append(m.msgs, &store.OutboxMessage{ID: id, Topic: topic, Payload: payload, MsgType: msgType})
	return id, nil
}

func (m *memOutbox) CountPendingOutbox() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.msgs {
		if msg.SentAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memOutbox) ListPendingOutbox(limit int) ([]*store.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.OutboxMessage
	for _, msg := range m.msgs {
		if msg.SentAt == nil && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memOutbox) AckOutbox(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.msgs[id-1].SentAt = &now
	m.acks = append(m.acks, id)
	return nil
}

func (m *memOutbox) IncrementOutboxRetries(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[id-1].Retries++
	return nil
}

func (m *memOutbox) PurgeSentOutbox(olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return 0, nil
}

func TestPublisherFallsBackToOutbox(t *testing.T) {
	tr := newFakeTransport()
	ob := &memOutbox{}
	p := NewEventPublisher(tr, ob, self, "events")

	if err := p.PublishTransition(&protocol.Transition{Slot: 0, From: "no_power", To: "power_good_wait"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(tr.messages("events")) != 1 || len(ob.msgs) != 0 {
		t.Fatal("connected publish should go straight to the bus")
	}

	tr.mu.Lock()
	tr.fail = true
	tr.mu.Unlock()
	if err := p.PublishPlatformEvent(&protocol.PlatformEvent{SensorNumber: 2}); err != nil {
		t.Fatalf("publish with outbox: %v", err)
	}
	if len(ob.msgs) != 1 {
		t.Fatalf("outbox = %d, want 1", len(ob.msgs))
	}
	if ob.msgs[0].MsgType != protocol.TypePlatformEvent || ob.msgs[0].Topic != "events" {
		t.Errorf("queued = %+v", ob.msgs[0])
	}

	// Recovered bus, but a backlog: new events queue behind it.
	tr.mu.Lock()
	tr.fail = false
	tr.mu.Unlock()
	if err := p.PublishTransition(&protocol.Transition{Slot: 0, From: "power_good_wait", To: "fpga_setup"}); err != nil {
		t.Fatalf("publish behind backlog: %v", err)
	}
	if len(tr.messages("events")) != 1 || len(ob.msgs) != 2 {
		t.Errorf("bus = %d outbox = %d, want 1 and 2", len(tr.messages("events")), len(ob.msgs))
	}

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()
	noOutbox := NewEventPublisher(tr, nil, self, "events")
	if err := noOutbox.PublishPlatformEvent(&protocol.PlatformEvent{}); err == nil {
		t.Error("expected error without outbox")
	}
}

func TestOutboxDrain(t *testing.T) {
	tr := newFakeTransport()
	ob := &memOutbox{}
	ob.EnqueueOutbox("events", []byte("a"), protocol.TypeTransition)
	ob.EnqueueOutbox("events", []byte("b"), protocol.TypeTransition)
	ob.EnqueueOutbox("events", []byte("c"), protocol.TypeTransition)
	ob.msgs[2].Retries = maxOutboxRetries

	d := NewOutboxDrainer(ob, tr, time.Second)

	tr.mu.Lock()
	tr.connected = false
	tr.mu.Unlock()
	d.drain()
	if len(tr.messages("events")) != 0 {
		t.Fatal("drain should skip while disconnected")
	}

	tr.mu.Lock()
	tr.connected = true
	tr.mu.Unlock()
	d.drain()

	if got := len(tr.messages("events")); got != 2 {
		t.Errorf("published = %d, want 2", got)
	}
	if len(ob.acks) != 3 {
		t.Errorf("acks = %v, want 3 (including the dropped message)", ob.acks)
	}
	pending, _ := ob.ListPendingOutbox(10)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestOutboxDrainRetries(t *testing.T) {
	tr := newFakeTransport()
	tr.fail = true
	ob := &memOutbox{}
	ob.EnqueueOutbox("events", []byte("a"), protocol.TypeTransition)

	d := NewOutboxDrainer(ob, tr, time.Second)
	d.drain()
	d.drain()

	if ob.msgs[0].Retries != 2 {
		t.Errorf("retries = %d, want 2", ob.msgs[0].Retries)
	}
	if ob.msgs[0].SentAt != nil {
		t.Error("failed message must stay pending")
	}
}

func TestHeartbeatOnlineThenOffline(t *testing.T) {
	tr := newFakeTransport()
	h := NewHeartbeater(tr, self, "1.0.0", "events", time.Hour, func() []protocol.SlotStatus {
		return []protocol.SlotStatus{{Slot: 0, State: "fpga_on"}}
	})
	h.Start()
	h.Stop()
	h.Stop()

	msgs := tr.messages("events")
	if len(msgs) != 2 {
		t.Fatalf("heartbeats = %d, want 2", len(msgs))
	}
	env := decodeEnvelope(t, msgs[0])
	if env.Type != protocol.TypeHeartbeat {
		t.Errorf("type = %q", env.Type)
	}
	var hb protocol.Heartbeat
	env.DecodePayload(&hb)
	if hb.NodeID != "mmc-1" || !hb.Online || len(hb.Slots) != 1 || hb.Slots[0].State != "fpga_on" {
		t.Errorf("first heartbeat = %+v", hb)
	}

	var last protocol.Heartbeat
	decodeEnvelope(t, msgs[1]).DecodePayload(&last)
	if last.Online || len(last.Slots) != 0 {
		t.Errorf("final heartbeat = %+v, want offline without slots", last)
	}
}

func TestHeartbeatSkippedWhileDisconnected(t *testing.T) {
	tr := newFakeTransport()
	tr.connected = false
	h := NewHeartbeater(tr, self, "1.0.0", "events", time.Hour, nil)
	h.Start()
	h.Stop()
	if n := len(tr.messages("events")); n != 0 {
		t.Errorf("sent %d heartbeats while disconnected", n)
	}
}

func TestOfflineHeartbeat(t *testing.T) {
	data, err := OfflineHeartbeat(self, "1.0.0")
	if err != nil {
		t.Fatalf("OfflineHeartbeat: %v", err)
	}
	var hb protocol.Heartbeat
	decodeEnvelope(t, data).DecodePayload(&hb)
	if hb.Online || hb.NodeID != "mmc-1" {
		t.Errorf("will heartbeat = %+v", hb)
	}
}

func TestClientRequiresKnownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "amqp"})
	if err := c.Connect(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if c.IsConnected() {
		t.Error("client reports connected after failed connect")
	}
	if err := c.Publish("t", []byte("x")); err == nil {
		t.Error("publish on unconnected client should fail")
	}

	k := NewClient(&config.MessagingConfig{Backend: "kafka"})
	if err := k.Connect(); err == nil {
		t.Error("kafka without brokers should fail to connect")
	}
	c.Close()
}

func TestOutboxDrainStopsAtFirstFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.fail = true
	ob := &memOutbox{}
	ob.EnqueueOutbox("events", []byte("a"), protocol.TypePlatformEvent)
	ob.EnqueueOutbox("events", []byte("b"), protocol.TypePlatformEvent)

	d := NewOutboxDrainer(ob, tr, time.Second)
	d.drain()

	if ob.msgs[0].Retries != 1 || ob.msgs[1].Retries != 0 {
		t.Errorf("retries = %d,%d; later messages must wait behind the failed one",
			ob.msgs[0].Retries, ob.msgs[1].Retries)
	}
}

func TestOutboxDrainDropsExpired(t *testing.T) {
	tr := newFakeTransport()
	ob := &memOutbox{}
	env, err := protocol.NewEnvelope(protocol.TypePlatformEvent, self, protocol.Address{Role: protocol.RoleShelf}, &protocol.PlatformEvent{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, _ := env.Encode()
	ob.EnqueueOutbox("events", data, protocol.TypePlatformEvent)
	ob.EnqueueOutbox("events", []byte("fresh"), protocol.TypeTransition)

	d := NewOutboxDrainer(ob, tr, time.Second)
	d.clock = func() time.Time { return env.ExpiresAt.Add(time.Second) }
	d.drain()

	msgs := tr.messages("events")
	if len(msgs) != 1 || string(msgs[0]) != "fresh" {
		t.Errorf("published %q, want only the unexpired message", msgs)
	}
	if len(ob.acks) != 2 {
		t.Errorf("acks = %v, want both messages settled", ob.acks)
	}
}

func TestOutboxPurgeIsRateLimited(t *testing.T) {
	ob := &memOutbox{}
	now := time.Now()
	d := NewOutboxDrainer(ob, newFakeTransport(), time.Second)
	d.clock = func() time.Time { return now }

	d.purge()
	d.purge()
	now = now.Add(outboxPurgeEvery)
	d.purge()
	if ob.purges != 2 {
		t.Errorf("purges = %d, want 2", ob.purges)
	}
}
