package messaging

import (
	"log"
	"sync"
	"time"

	"mmcd/protocol"
)

// Heartbeater announces the controller and its slot states to the shelf
// manager. The first beat goes out on Start, a final offline beat on Stop.
type Heartbeater struct {
	client   Transport
	self     protocol.Address
	version  string
	topic    string
	interval time.Duration
	slots    func() []protocol.SlotStatus
	started  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeater creates a heartbeater. slots reports the current slot states
// for each beat.
func NewHeartbeater(client Transport, self protocol.Address, version, topic string, interval time.Duration, slots func() []protocol.SlotStatus) *Heartbeater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeater{
		client:   client,
		self:     self,
		version:  version,
		topic:    topic,
		interval: interval,
		slots:    slots,
		stopCh:   make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.started = time.Now()
	h.beat(true)
	h.wg.Add(1)
	go h.loop()
}

// Stop halts the loop and tells the shelf manager this controller is going away.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.beat(false)
	})
}

func (h *Heartbeater) beat(online bool) {
	// Missed beats are not queued; the next one supersedes them.
	if !h.client.IsConnected() {
		return
	}
	hb := &protocol.Heartbeat{
		NodeID:  h.self.Node,
		Online:  online,
		Version: h.version,
		Uptime:  int64(time.Since(h.started) / time.Second),
	}
	if online && h.slots != nil {
		hb.Slots = h.slots()
	}
	data, err := encodeHeartbeat(h.self, hb)
	if err != nil {
		log.Printf("heartbeater: %v", err)
		return
	}
	if err := h.client.Publish(h.topic, data); err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.beat(true)
		}
	}
}

// OfflineHeartbeat is the encoded beat a broker should publish on this
// controller's behalf if it disappears. Pass it to WithWill.
func OfflineHeartbeat(self protocol.Address, version string) ([]byte, error) {
	return encodeHeartbeat(self, &protocol.Heartbeat{NodeID: self.Node, Version: version})
}

func encodeHeartbeat(self protocol.Address, hb *protocol.Heartbeat) ([]byte, error) {
	env, err := protocol.NewEnvelope(protocol.TypeHeartbeat, self, protocol.Address{Role: protocol.RoleShelf}, hb)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
