package messaging

import (
	"fmt"
	"log"

	"mmcd/protocol"
)

// Outbox queues messages that could not be published.
type Outbox interface {
	EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error)
	CountPendingOutbox() (int, error)
}

// EventPublisher sends platform events and transitions to the shelf manager.
// Anything that cannot be published right away is queued in the outbox, and
// while the outbox holds messages new ones queue behind them.
type EventPublisher struct {
	client Transport
	outbox Outbox
	self   protocol.Address
	topic  string
}

func NewEventPublisher(client Transport, outbox Outbox, self protocol.Address, topic string) *EventPublisher {
	return &EventPublisher{client: client, outbox: outbox, self: self, topic: topic}
}

func (p *EventPublisher) PublishPlatformEvent(ev *protocol.PlatformEvent) error {
	return p.publish(protocol.TypePlatformEvent, ev)
}

func (p *EventPublisher) PublishTransition(t *protocol.Transition) error {
	return p.publish(protocol.TypeTransition, t)
}

func (p *EventPublisher) publish(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, p.self, protocol.Address{Role: protocol.RoleShelf}, payload)
	if err != nil {
		return fmt.Errorf("build %s: %w", msgType, err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	if p.client != nil && p.client.IsConnected() && !p.backlogged() {
		err = p.client.Publish(p.topic, data)
		if err == nil {
			return nil
		}
		log.Printf("publisher: send %s %s: %v (will retry via outbox)", msgType, env.ID, err)
	}
	if p.outbox == nil {
		if err == nil {
			err = fmt.Errorf("bus not connected")
		}
		return err
	}
	if _, err := p.outbox.EnqueueOutbox(p.topic, data, msgType); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

func (p *EventPublisher) backlogged() bool {
	if p.outbox == nil {
		return false
	}
	n, err := p.outbox.CountPendingOutbox()
	if err != nil {
		log.Printf("publisher: count outbox: %v", err)
		return true
	}
	return n > 0
}
