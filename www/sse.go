package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"mmcd/engine"
)

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sseClient struct {
	events chan SSEEvent
}

// EventHub fans engine events out to connected SSE clients.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once

	bus   *engine.EventBus
	subID engine.SubscriberID
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop detaches from the engine and closes every stream.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() {
		if h.bus != nil {
			h.bus.Unsubscribe(h.subID)
		}
		close(h.stopChan)
	})
}

// Broadcast queues an event for all connected clients. Events are dropped
// when the buffer is full.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

// clientCount is used by tests to wait for a stream to attach.
func (h *EventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.events <- evt:
				default:
					// slow client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64)}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// sseFromEngine maps an engine event to its stream name. Bus dispatch events
// are not streamed.
func sseFromEngine(evt engine.Event) (SSEEvent, bool) {
	switch evt.Type {
	case engine.EventPayloadTransition:
		p := evt.Payload.(engine.TransitionEvent)
		return SSEEvent{Type: "slot-transition", Data: p.EventRecord}, true
	case engine.EventSensorEvent:
		p := evt.Payload.(engine.SensorEventEvent)
		return SSEEvent{Type: "sensor-event", Data: p.Event}, true
	case engine.EventSensorSampled:
		p := evt.Payload.(engine.SensorSampledEvent)
		return SSEEvent{Type: "sensor-reading", Data: p.Record}, true
	case engine.EventAgentConnected, engine.EventAgentDisconnected:
		return SSEEvent{Type: "agent-status", Data: evt.Payload}, true
	}
	return SSEEvent{}, false
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(bus *engine.EventBus) {
	h.bus = bus
	h.subID = bus.Subscribe(func(evt engine.Event) {
		if sse, ok := sseFromEngine(evt); ok {
			h.Broadcast(sse)
		}
	})
	log.Printf("www: SSE listeners wired to engine events")
}
