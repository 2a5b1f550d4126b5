package messaging

import (
	"context"
	"log"
	"time"

	"mmcd/ipmi"
	"mmcd/protocol"
)

// Dispatcher resolves one management-bus request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ipmi.Request) ipmi.Response
}

// Listener answers IPMI request envelopes from the shelf manager. Each
// request is dispatched synchronously on the listener's channel and the
// response is published on the response topic with the request id as
// correlation id.
type Listener struct {
	client     Transport
	dispatcher Dispatcher
	self       protocol.Address
	channel    uint8
	respTopic  string
	mux        *protocol.Mux
}

// NewListener creates a listener that answers as self. Every request it
// receives is checked against the privilege of channel.
func NewListener(client Transport, d Dispatcher, self protocol.Address, channel uint8, respTopic string) *Listener {
	l := &Listener{
		client:     client,
		dispatcher: d,
		self:       self,
		channel:    channel,
		respTopic:  respTopic,
	}
	l.mux = protocol.NewMux(l.accept)
	protocol.Handle(l.mux, protocol.TypeIPMIRequest, l.handleIPMIRequest)
	return l
}

// Start subscribes to the request topic.
func (l *Listener) Start(sub interface {
	Subscribe(topic string, handler func([]byte)) error
}, reqTopic string) error {
	return sub.Subscribe(reqTopic, l.HandleRaw)
}

// HandleRaw feeds one raw bus message through the mux.
func (l *Listener) HandleRaw(data []byte) {
	l.mux.HandleRaw(data)
}

// accept keeps requests addressed to this controller or broadcast to all MMCs.
func (l *Listener) accept(hdr *protocol.RawHeader) bool {
	if hdr.Type != protocol.TypeIPMIRequest {
		return false
	}
	if hdr.Dst.Role != "" && hdr.Dst.Role != protocol.RoleMMC {
		return false
	}
	return hdr.Dst.Node == "" || hdr.Dst.Node == l.self.Node
}

func (l *Listener) handleIPMIRequest(env *protocol.Envelope, p *protocol.IPMIRequest) {
	deadline := env.ExpiresAt
	if deadline.IsZero() {
		deadline = time.Now().Add(requestTimeout)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	resp := l.dispatcher.Dispatch(ctx, ipmi.Request{
		NetFn:   p.NetFn,
		Cmd:     p.Cmd,
		LUN:     p.LUN,
		Channel: l.channel,
		Data:    p.Data,
	})

	reply, err := protocol.ReplyTo(env, protocol.TypeIPMIResponse, l.self, &protocol.IPMIResponse{
		RqAddr: p.RqAddr,
		Seq:    p.Seq,
		NetFn:  p.NetFn | 0x01,
		Cmd:    p.Cmd,
		CC:     uint8(resp.CC),
		Data:   resp.Data,
	})
	if err != nil {
		log.Printf("listener: build response for %s: %v", env.ID, err)
		return
	}
	data, err := reply.Encode()
	if err != nil {
		log.Printf("listener: encode response for %s: %v", env.ID, err)
		return
	}
	if err := l.client.Publish(l.respTopic, data); err != nil {
		log.Printf("listener: publish response for %s: %v", env.ID, err)
	}
}

// requestTimeout bounds requests that arrive without an expiry.
const requestTimeout = 5 * time.Second
