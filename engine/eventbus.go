package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id   SubscriberID
	fn   SubscriberFunc
	mask uint64 // bit per EventType; zero means every type
}

func (s subscriber) wants(t EventType) bool {
	return s.mask == 0 || s.mask&typeBit(t) != 0
}

func typeBit(t EventType) uint64 {
	if t <= 0 || t >= 64 {
		return 0
	}
	return 1 << uint(t)
}

// EventBus dispatches events synchronously, in registration order, on the
// emitting goroutine. The engine only emits from its pump, so subscribers
// never run concurrently with each other.
type EventBus struct {
	mu     sync.Mutex // serializes writers
	subs   atomic.Pointer[[]subscriber]
	nextID SubscriberID
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	eb := &EventBus{}
	eb.subs.Store(&[]subscriber{})
	return eb
}

// Subscribe registers a callback for all event types.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, 0)
}

// SubscribeTypes registers a callback only for the given event types.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	var mask uint64
	for _, t := range types {
		mask |= typeBit(t)
	}
	return eb.add(fn, mask)
}

func (eb *EventBus) add(fn SubscriberFunc, mask uint64) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	cur := *eb.subs.Load()
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscriber{id: eb.nextID, fn: fn, mask: mask})
	eb.subs.Store(&next)
	return eb.nextID
}

// Unsubscribe removes a subscriber by ID.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := *eb.subs.Load()
	next := make([]subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	eb.subs.Store(&next)
}

// Emit hands evt to every matching subscriber. A panicking subscriber is
// logged and skipped; the rest still see the event.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range *eb.subs.Load() {
		if s.wants(evt.Type) {
			eb.call(s, evt)
		}
	}
}

func (eb *EventBus) call(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("engine: subscriber %d panicked on %s: %v", s.id, evt.Type, r)
		}
	}()
	s.fn(evt)
}
