package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	src := Address{Role: RoleShelf, Node: "mch-1", Shelf: "crate-a"}
	dst := Address{Role: RoleMMC, Node: "mmc-1"}

	env, err := NewEnvelope(TypeIPMIRequest, src, dst, &IPMIRequest{
		NetFn: 0x06, Cmd: 0x01, Seq: 7, Data: HexBytes{0xde, 0xad},
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != Version {
		t.Errorf("version = %d, want %d", env.Version, Version)
	}
	if env.ID == "" {
		t.Error("ID should not be empty")
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != env.ID || decoded.Src != src {
		t.Errorf("decoded = %+v", decoded)
	}

	var req IPMIRequest
	if err := decoded.DecodePayload(&req); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if req.Cmd != 0x01 || req.Seq != 7 || len(req.Data) != 2 || req.Data[1] != 0xad {
		t.Errorf("request = %+v", req)
	}
}

func TestHexBytesWireFormat(t *testing.T) {
	out, err := json.Marshal(IPMIResponse{CC: 0xC1, Data: HexBytes{0x0a, 0xff}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(out, &m)
	if m["data"] != "0aff" {
		t.Errorf("data = %v, want 0aff", m["data"])
	}

	var r IPMIResponse
	if err := json.Unmarshal([]byte(`{"data":"zz"}`), &r); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestReplyTo(t *testing.T) {
	req := &Envelope{
		ID:        "orig-msg-id",
		Src:       Address{Role: RoleShelf, Node: "mch-1"},
		ExpiresAt: time.Now().UTC().Add(2 * time.Second),
	}
	reply, err := ReplyTo(req, TypeIPMIResponse, Address{Role: RoleMMC, Node: "mmc-1"}, &IPMIResponse{CC: 0})
	if err != nil {
		t.Fatalf("ReplyTo: %v", err)
	}
	if reply.CorID != "orig-msg-id" {
		t.Errorf("cor = %q, want %q", reply.CorID, "orig-msg-id")
	}
	if reply.Dst != req.Src {
		t.Errorf("dst = %+v, want %+v", reply.Dst, req.Src)
	}
	if !reply.ExpiresAt.Equal(req.ExpiresAt) {
		t.Errorf("reply expires %v, want capped at request expiry %v", reply.ExpiresAt, req.ExpiresAt)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name string
		exp  time.Time
		want bool
	}{
		{"past", now.Add(-time.Minute), true},
		{"exactly now", now, true},
		{"future", now.Add(10 * time.Minute), false},
		{"no expiry", time.Time{}, false},
	}
	for _, tt := range tests {
		env := &Envelope{ExpiresAt: tt.exp}
		if got := env.Expired(now); got != tt.want {
			t.Errorf("%s: Expired = %v, want %v", tt.name, got, tt.want)
		}
		hdr := &RawHeader{ExpiresAt: tt.exp}
		if got := hdr.Expired(now); got != tt.want {
			t.Errorf("%s: header Expired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDefaultTTLFor(t *testing.T) {
	if ttl := DefaultTTLFor(TypeIPMIRequest); ttl != 5*time.Second {
		t.Errorf("request TTL = %v, want 5s", ttl)
	}
	if ttl := DefaultTTLFor("unknown.type"); ttl != FallbackTTL {
		t.Errorf("unknown TTL = %v, want %v", ttl, FallbackTTL)
	}
}

func encodeRequest(t *testing.T, dstNode string) *Envelope {
	t.Helper()
	env, err := NewEnvelope(TypeIPMIRequest,
		Address{Role: RoleShelf, Node: "mch-1"},
		Address{Role: RoleMMC, Node: dstNode},
		&IPMIRequest{NetFn: 0x06, Cmd: 0x01},
	)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func newRequestMux(filter FilterFunc) (*Mux, *[]IPMIRequest) {
	var got []IPMIRequest
	m := NewMux(filter)
	Handle(m, TypeIPMIRequest, func(_ *Envelope, p *IPMIRequest) {
		got = append(got, *p)
	})
	return m, &got
}

func TestMuxDispatch(t *testing.T) {
	m, got := newRequestMux(func(hdr *RawHeader) bool { return hdr.Dst.Node == "mmc-1" })

	data, _ := encodeRequest(t, "mmc-1").Encode()
	m.HandleRaw(data)
	other, _ := encodeRequest(t, "mmc-2").Encode()
	m.HandleRaw(other)

	if len(*got) != 1 || (*got)[0].Cmd != 0x01 {
		t.Fatalf("requests = %+v, want one", *got)
	}
}

func TestMuxDrops(t *testing.T) {
	m, got := newRequestMux(nil)

	expired := encodeRequest(t, "mmc-1")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	badVersion := encodeRequest(t, "mmc-1")
	badVersion.Version = 99
	unrouted, _ := NewEnvelope(TypeHeartbeat, Address{Role: RoleMMC}, Address{Role: RoleShelf}, &Heartbeat{NodeID: "x"})
	empty := encodeRequest(t, "mmc-1")
	empty.Payload = nil

	for name, env := range map[string]*Envelope{
		"expired": expired, "version": badVersion, "unrouted": unrouted, "empty payload": empty,
	} {
		data, _ := env.Encode()
		if err := m.dispatch(data); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if err := m.dispatch([]byte("not json")); err == nil {
		t.Error("garbage: expected an error")
	}
	if len(*got) != 0 {
		t.Fatalf("requests = %d, want 0", len(*got))
	}
}

func TestMuxFilteredIsNotAnError(t *testing.T) {
	m, got := newRequestMux(func(*RawHeader) bool { return false })
	data, _ := encodeRequest(t, "mmc-1").Encode()
	if err := m.dispatch(data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(*got) != 0 {
		t.Fatal("filtered message reached the handler")
	}
}

func TestWireFormatKeys(t *testing.T) {
	env := encodeRequest(t, "mmc-1")
	data, _ := env.Encode()

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"v", "type", "id", "src", "dst", "ts", "exp", "p"} {
		if _, ok := m[k]; !ok {
			t.Errorf("expected key %q in wire format", k)
		}
	}
}
