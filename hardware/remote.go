package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"mmcd/payload"
)

// --- board agent API types ---

type agentSlot struct {
	Slot             int    `json:"slot"`
	PowerGood        bool   `json:"power_good"`
	Handle           string `json:"handle"`
	ClockConfigured  bool   `json:"clock_configured"`
	BootImagePresent bool   `json:"boot_image_present"`
	Done             bool   `json:"done"`
}

type agentSensor struct {
	ID    uint8  `json:"id"`
	Value uint16 `json:"value"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// agentWrite is an output line change waiting to be posted.
type agentWrite struct {
	path string
	body map[string]bool
}

// Remote drives a board through an HTTP agent running next to the hardware.
// Input lines are polled into a cache. Output line changes are queued and
// posted in order by a writer goroutine, so callers never wait on the agent.
type Remote struct {
	mu      sync.RWMutex
	baseURL string
	rate    time.Duration
	emitter EventEmitter
	client  http.Client

	slots   map[int]agentSlot
	sensors map[uint8]agentSensor

	connected bool
	lastErr   error

	writeMu sync.Mutex
	writes  []agentWrite
	wake    chan struct{}

	stopChan chan struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewRemote creates a poller for the agent at baseURL.
func NewRemote(baseURL string, pollRate time.Duration, emitter EventEmitter) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		rate:    pollRate,
		emitter: emitter,
		client:  http.Client{Timeout: 2 * time.Second},
		slots:   make(map[int]agentSlot),
		sensors: make(map[uint8]agentSensor),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the poll loop and the output writer.
func (r *Remote) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.stopChan = make(chan struct{})
	r.running = true
	r.mu.Unlock()

	r.wg.Add(2)
	go r.pollLoop()
	go r.writeLoop()
}

// Stop stops the poll loop, posts any queued writes and marks the agent
// disconnected.
func (r *Remote) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopChan)
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	wasConnected := r.connected
	r.connected = false
	r.lastErr = nil
	r.mu.Unlock()
	if wasConnected {
		r.emitter.EmitAgentDisconnected(nil)
	}
}

func (r *Remote) pollLoop() {
	defer r.wg.Done()

	rate := r.rate
	if rate <= 0 {
		rate = 200 * time.Millisecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	r.pollTick()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.pollTick()
		}
	}
}

func (r *Remote) pollTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var slots []agentSlot
	err := r.get(ctx, "/slots", &slots)
	var sensors []agentSensor
	if err == nil {
		err = r.get(ctx, "/sensors", &sensors)
	}
	if err != nil {
		r.mu.Lock()
		wasConnected := r.connected
		r.connected = false
		r.lastErr = err
		// Stale inputs must not keep a payload powered.
		r.slots = make(map[int]agentSlot)
		r.sensors = make(map[uint8]agentSensor)
		r.mu.Unlock()
		if wasConnected {
			log.Printf("hardware: agent connection lost: %v", err)
			r.emitter.EmitAgentDisconnected(err)
		}
		return
	}

	nextSlots := make(map[int]agentSlot, len(slots))
	for _, s := range slots {
		nextSlots[s.Slot] = s
	}
	nextSensors := make(map[uint8]agentSensor, len(sensors))
	for _, s := range sensors {
		nextSensors[s.ID] = s
	}

	r.mu.Lock()
	wasDisconnected := !r.connected
	r.connected = true
	r.lastErr = nil
	r.slots = nextSlots
	r.sensors = nextSensors
	r.mu.Unlock()

	if wasDisconnected {
		log.Printf("hardware: agent connected: %s", r.baseURL)
		r.emitter.EmitAgentConnected(r.baseURL)
	}
}

func (r *Remote) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", r.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (r *Remote) post(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("agent %s returned %d", path, resp.StatusCode)
	}
	return nil
}

func (r *Remote) AssertPowerRail(slot int, on bool) {
	r.queueWrite(agentWrite{path: fmt.Sprintf("/slots/%d/rail", slot), body: map[string]bool{"on": on}})
}

func (r *Remote) AssertReset(slot int, on bool) {
	r.queueWrite(agentWrite{path: fmt.Sprintf("/slots/%d/reset", slot), body: map[string]bool{"asserted": on}})
}

func (r *Remote) queueWrite(w agentWrite) {
	r.writeMu.Lock()
	r.writes = append(r.writes, w)
	r.writeMu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Remote) writeLoop() {
	defer r.wg.Done()
	for {
		r.flushWrites()
		select {
		case <-r.wake:
		case <-r.stopChan:
			r.flushWrites()
			return
		}
	}
}

// flushWrites posts queued writes in order. A failed write is logged and not
// retried.
func (r *Remote) flushWrites() {
	r.writeMu.Lock()
	pending := r.writes
	r.writes = nil
	r.writeMu.Unlock()
	for _, w := range pending {
		if err := r.post(w.path, w.body); err != nil {
			log.Printf("hardware: %s %v: %v", w.path, w.body, err)
		}
	}
}

func (r *Remote) ReadPowerGood(slot int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[slot].PowerGood
}

func (r *Remote) ReadHandlePosition(slot int) payload.HandlePosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.slots[slot].Handle == "inserted" {
		return payload.Inserted
	}
	return payload.Extracted
}

func (r *Remote) ReadSetupStatus(slot int) payload.SetupStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.slots[slot]
	return payload.SetupStatus{
		ClockConfigured:  s.ClockConfigured,
		BootImagePresent: s.BootImagePresent,
		Done:             s.Done,
	}
}

func (r *Remote) ReadSensor(id uint8) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sensors[id]
	if !ok || !s.Valid || s.Error != "" {
		return 0, false
	}
	return s.Value, true
}

// IsConnected returns whether the last poll reached the agent.
func (r *Remote) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// LastError returns the last poll error, if any.
func (r *Remote) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}
