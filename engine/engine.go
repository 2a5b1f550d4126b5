package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mmcd/config"
	"mmcd/hardware"
	"mmcd/ipmi"
	"mmcd/metrics"
	"mmcd/payload"
	"mmcd/protocol"
	"mmcd/sdr"
	"mmcd/statecache"
	"mmcd/store"
	"mmcd/telemetry"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Publisher forwards events to the shelf manager.
type Publisher interface {
	PublishPlatformEvent(ev *protocol.PlatformEvent) error
	PublishTransition(t *protocol.Transition) error
}

// queueSize bounds the events waiting for subscribers. Emitters never block.
// Overflow goes to a spill list of the same size; past that, everything except
// payload transitions and flush barriers is dropped and counted.
const queueSize = 1024

// Engine owns the controller core and orchestrates its subsystems.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	logFn      LogFunc
	debugFn    LogFunc

	board  hardware.Board
	remote *hardware.Remote

	sensors    *sdr.Repository
	seq        *payload.Sequencer
	service    *ipmi.Service
	dispatcher *ipmi.Dispatcher

	publisher Publisher
	cache     *statecache.RedisStore
	influx    *telemetry.Influx

	Events   *EventBus
	queue    chan Event
	spillMu  sync.Mutex
	spill    []Event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  time.Time
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	LogFunc    LogFunc
	Debug      bool

	// Board overrides the hardware selected by AppConfig.Hardware.
	Board     hardware.Board
	Publisher Publisher
	Cache     *statecache.RedisStore
	Influx    *telemetry.Influx
	Clock     func() time.Time
}

// New builds the sensor repository, sequencer and command dispatcher from the
// configuration. Call Start to run the periodic tasks.
func New(c Config) (*Engine, error) {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		logFn:      logFn,
		debugFn:    debugFn,
		board:      c.Board,
		publisher:  c.Publisher,
		cache:      c.Cache,
		influx:     c.Influx,
		Events:     NewEventBus(),
		queue:      make(chan Event, queueSize),
		stopChan:   make(chan struct{}),
	}

	if e.board == nil {
		switch e.cfg.Hardware.Driver {
		case "sim", "":
			e.board = newSimBoard(e.cfg)
		case "remote":
			e.remote = hardware.NewRemote(e.cfg.Hardware.URL, e.cfg.Hardware.PollRate, &hardwareEmitter{e: e})
			e.board = e.remote
		default:
			return nil, fmt.Errorf("unknown hardware driver: %s", e.cfg.Hardware.Driver)
		}
	}

	descs, err := descriptorsFromConfig(&e.cfg.Sensors)
	if err != nil {
		return nil, err
	}
	e.sensors, err = sdr.New(descs, &sensorEmitter{e: e})
	if err != nil {
		return nil, fmt.Errorf("sensor repository: %w", err)
	}
	for i, s := range e.cfg.Slots {
		for _, id := range []uint8{s.StateSensor, s.HotswapSensor} {
			if _, ok := e.sensors.FindByID(id); !ok {
				return nil, fmt.Errorf("slot %d (%s): sensor %d: %w", i, s.Name, id, sdr.ErrUnknownSensor)
			}
		}
	}

	seqCfg := sequencerConfig(e.cfg, logFn)
	seqCfg.Clock = c.Clock
	e.seq = payload.NewSequencer(seqCfg, e.board, e.sensors, &payloadEmitter{e: e})

	info, err := deviceInfo(&e.cfg.IPMI)
	if err != nil {
		return nil, err
	}
	opts, err := dispatcherOptions(&e.cfg.IPMI, debugFn)
	if err != nil {
		return nil, err
	}
	e.dispatcher = ipmi.NewDispatcher(ipmi.LogFunc(logFn), opts...)
	e.service = ipmi.NewService(info, e.seq, e.sensors, defaultEventReceiver)
	e.service.Register(e.dispatcher)

	return e, nil
}

// Start wires event handlers and launches the event pump, the tick task and
// the sensor sampler.
func (e *Engine) Start() {
	e.started = time.Now()
	e.wireEventHandlers()

	e.wg.Add(3)
	go e.pump()
	go e.tickLoop()
	go e.sampleLoop()

	if e.remote != nil {
		e.remote.Start()
	}

	e.logFn("Engine started: name=%s slots=%d sensors=%d routes=%d",
		e.cfg.Name, e.seq.Slots(), e.sensors.Len(), e.dispatcher.Routes())
}

// Stop shuts down all subsystems gracefully. Queued events are delivered
// before it returns.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.remote != nil {
			e.remote.Stop()
		}
		close(e.stopChan)
	})
	e.wg.Wait()
	e.logFn("Engine stopped")
}

// enqueue hands an event to the pump without blocking. Once the queue is full,
// events go to the spill list so ordering is kept.
func (e *Engine) enqueue(evt Event) {
	e.spillMu.Lock()
	defer e.spillMu.Unlock()
	if len(e.spill) == 0 {
		select {
		case e.queue <- evt:
			return
		default:
		}
	}
	if len(e.spill) >= queueSize && !mustDeliver(evt) {
		log.Printf("engine: event queue full, dropping %s", evt.Type)
		metrics.EngineEventsDroppedTotal.WithLabelValues(evt.Type.String()).Inc()
		return
	}
	e.spill = append(e.spill, evt)
}

// mustDeliver reports events that are never dropped on overflow.
func mustDeliver(evt Event) bool {
	if _, ok := evt.Payload.(barrier); ok {
		return true
	}
	return evt.Type == EventPayloadTransition
}

// takeSpill returns the spilled events once the queue ahead of them is empty.
func (e *Engine) takeSpill() []Event {
	e.spillMu.Lock()
	defer e.spillMu.Unlock()
	if len(e.queue) > 0 || len(e.spill) == 0 {
		return nil
	}
	s := e.spill
	e.spill = nil
	return s
}

// barrier is queued by flush; the pump closes it once everything ahead of it
// has been delivered.
type barrier chan struct{}

func (e *Engine) pump() {
	defer e.wg.Done()
	for {
		select {
		case evt := <-e.queue:
			e.deliver(evt)
			e.drainSpill()
		case <-e.stopChan:
			for {
				select {
				case evt := <-e.queue:
					e.deliver(evt)
				default:
					if !e.drainSpill() {
						return
					}
				}
			}
		}
	}
}

func (e *Engine) drainSpill() bool {
	s := e.takeSpill()
	for _, evt := range s {
		e.deliver(evt)
	}
	return len(s) > 0
}

func (e *Engine) deliver(evt Event) {
	if b, ok := evt.Payload.(barrier); ok {
		close(b)
		return
	}
	e.Events.Emit(evt)
}

// flush waits until every event queued before the call has been delivered.
func (e *Engine) flush(timeout time.Duration) bool {
	b := make(barrier)
	e.enqueue(Event{Payload: b})
	select {
	case <-b:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	interval := e.cfg.Payload.Tick
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case now := <-ticker.C:
			if busy := e.seq.TickAll(now); busy > 0 {
				e.debugFn("tick: %d slot(s) busy, retrying next tick", busy)
			}
		}
	}
}

func (e *Engine) sampleLoop() {
	defer e.wg.Done()

	interval := e.cfg.Sensors.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.sample()
		}
	}
}

// sample reads every threshold sensor from the board. Sensors the board
// cannot read are invalidated.
func (e *Engine) sample() {
	for rec := range e.sensors.All() {
		if rec.Kind != sdr.Threshold {
			continue
		}
		v, ok := e.board.ReadSensor(rec.ID)
		if !ok {
			if rec.Reading.Valid {
				e.sensors.Invalidate(rec.ID)
			}
			continue
		}
		if err := e.sensors.UpdateReading(rec.ID, v); err != nil {
			log.Printf("engine: update sensor %d: %v", rec.ID, err)
			continue
		}
		if updated, ok := e.sensors.FindByID(rec.ID); ok {
			e.enqueue(Event{Type: EventSensorSampled, Payload: SensorSampledEvent{Record: updated}})
		}
	}
}

// Dispatch resolves a management-bus request.
func (e *Engine) Dispatch(ctx context.Context, req ipmi.Request) ipmi.Response {
	return e.DispatchAs(ctx, "bus", req)
}

// DispatchAs resolves a request and records where it came from.
func (e *Engine) DispatchAs(ctx context.Context, source string, req ipmi.Request) ipmi.Response {
	resp := e.dispatcher.Dispatch(ctx, req)
	e.enqueue(Event{Type: EventIPMIDispatched, Payload: IPMIDispatchedEvent{
		NetFn: req.NetFn, Cmd: req.Cmd, Channel: req.Channel, CC: uint8(resp.CC), Source: source,
	}})
	return resp
}

// SlotStatuses reports every slot's current state without blocking.
func (e *Engine) SlotStatuses() []protocol.SlotStatus {
	out := make([]protocol.SlotStatus, e.seq.Slots())
	for i := range out {
		out[i] = protocol.SlotStatus{Slot: i, State: e.seq.CurrentState(i).String()}
	}
	return out
}

// Self is this controller's bus address.
func (e *Engine) Self() protocol.Address {
	return protocol.Address{Role: protocol.RoleMMC, Node: e.cfg.NodeID()}
}

// Uptime returns the time since Start.
func (e *Engine) Uptime() time.Duration {
	if e.started.IsZero() {
		return 0
	}
	return time.Since(e.started)
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Sequencer returns the payload sequencer.
func (e *Engine) Sequencer() *payload.Sequencer { return e.seq }

// Sensors returns the sensor repository.
func (e *Engine) Sensors() *sdr.Repository { return e.sensors }

// Service returns the IPMI command set.
func (e *Engine) Service() *ipmi.Service { return e.service }

// Cache returns the redis state mirror, nil when redis is not configured.
func (e *Engine) Cache() *statecache.RedisStore { return e.cache }

// Board returns the hardware backend.
func (e *Engine) Board() hardware.Board { return e.board }

// Logf logs through the engine's log function.
func (e *Engine) Logf(format string, args ...interface{}) { e.logFn(format, args...) }
