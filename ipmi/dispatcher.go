package ipmi

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"mmcd/payload"
	"mmcd/sdr"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Handler serves one (netfn, cmd) pair. It returns the response data on success.
type Handler interface {
	ServeIPMI(ctx context.Context, req Request) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) ([]byte, error)

// ServeIPMI calls f(ctx, req).
func (f HandlerFunc) ServeIPMI(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Route binds a handler to its request-length bounds and required privilege.
type Route struct {
	Handler   Handler
	MinLen    int
	MaxLen    int
	Privilege Privilege
}

type routeKey struct {
	netFn uint8
	cmd   uint8
}

// Dispatcher resolves requests to handlers. Requests on the same channel are
// served one at a time, in arrival order.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[routeKey]Route

	chanMu     sync.Mutex
	channels   map[uint8]*sync.Mutex
	privileges map[uint8]Privilege
	defPriv    Privilege

	logFn   LogFunc
	debugFn LogFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithChannel sets the privilege granted to requests arriving on a channel.
func WithChannel(channel uint8, p Privilege) Option {
	return func(d *Dispatcher) { d.privileges[channel] = p }
}

// WithDefaultPrivilege sets the privilege for channels not configured explicitly.
func WithDefaultPrivilege(p Privilege) Option {
	return func(d *Dispatcher) { d.defPriv = p }
}

// WithDebug routes per-request tracing to logFn.
func WithDebug(logFn LogFunc) Option {
	return func(d *Dispatcher) {
		if logFn != nil {
			d.debugFn = logFn
		}
	}
}

// NewDispatcher creates a dispatcher with an empty route table.
func NewDispatcher(logFn LogFunc, opts ...Option) *Dispatcher {
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	d := &Dispatcher{
		routes:     make(map[routeKey]Route),
		channels:   make(map[uint8]*sync.Mutex),
		privileges: make(map[uint8]Privilege),
		defPriv:    PrivUser,
		logFn:      logFn,
		debugFn:    func(string, ...interface{}) {},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds or replaces the route for (netFn, cmd). MaxLen is clamped to MaxDataLen.
func (d *Dispatcher) Register(netFn, cmd uint8, r Route) {
	if r.MaxLen <= 0 || r.MaxLen > MaxDataLen {
		r.MaxLen = MaxDataLen
	}
	if r.Privilege == 0 {
		r.Privilege = PrivUser
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[routeKey{netFn, cmd}] = r
}

// Routes returns the number of registered routes.
func (d *Dispatcher) Routes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.routes)
}

func (d *Dispatcher) channelLock(ch uint8) *sync.Mutex {
	d.chanMu.Lock()
	defer d.chanMu.Unlock()
	m, ok := d.channels[ch]
	if !ok {
		m = &sync.Mutex{}
		d.channels[ch] = m
	}
	return m
}

func (d *Dispatcher) privilege(ch uint8) Privilege {
	if p, ok := d.privileges[ch]; ok {
		return p
	}
	return d.defPriv
}

// Dispatch resolves and runs the handler for req. It always returns a response;
// failures are reported through the completion code.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	lock := d.channelLock(req.Channel)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{CC: CCTimeout}
	}

	d.mu.RLock()
	route, ok := d.routes[routeKey{req.NetFn, req.Cmd}]
	d.mu.RUnlock()
	if !ok {
		d.debugFn("ipmi: netfn=0x%02x cmd=0x%02x: %v", req.NetFn, req.Cmd, ErrUnknownCommand)
		return Response{CC: CCInvalidCommand}
	}
	if n := len(req.Data); n < route.MinLen || n > route.MaxLen {
		d.debugFn("ipmi: netfn=0x%02x cmd=0x%02x: %d bytes: %v", req.NetFn, req.Cmd, n, ErrInvalidLength)
		return Response{CC: CCReqDataInvalidLength}
	}
	if d.privilege(req.Channel) < route.Privilege {
		return Response{CC: CCInsufficientPrivilege}
	}

	data, err := d.serve(ctx, route.Handler, req)
	if err != nil {
		cc := CompletionFor(err)
		if cc == CCUnspecifiedError {
			d.logFn("ipmi: netfn=0x%02x cmd=0x%02x: %v", req.NetFn, req.Cmd, err)
		} else {
			d.debugFn("ipmi: netfn=0x%02x cmd=0x%02x: %v", req.NetFn, req.Cmd, err)
		}
		return Response{CC: cc}
	}
	if len(data) > MaxDataLen {
		d.logFn("ipmi: netfn=0x%02x cmd=0x%02x: response of %d bytes truncated", req.NetFn, req.Cmd, len(data))
		data = data[:MaxDataLen]
	}
	return Response{CC: CCOK, Data: data}
}

func (d *Dispatcher) serve(ctx context.Context, h Handler, req Request) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logFn("ipmi: handler panic netfn=0x%02x cmd=0x%02x: %v\n%s", req.NetFn, req.Cmd, r, debug.Stack())
			data = nil
			err = fmt.Errorf("%w: %v", ErrInternalFault, r)
		}
	}()
	return h.ServeIPMI(ctx, req)
}

// CompletionFor classifies a handler error.
func CompletionFor(err error) CompletionCode {
	var ce *CompletionError
	switch {
	case err == nil:
		return CCOK
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, payload.ErrBusy):
		return CCNodeBusy
	case errors.Is(err, payload.ErrInvalidState):
		return CCNotSupportedPresentState
	case errors.Is(err, sdr.ErrUnknownSensor):
		return CCReqDataNotPresent
	case errors.Is(err, ErrInvalidLength):
		return CCReqDataInvalidLength
	case errors.Is(err, ErrInvalidField), errors.Is(err, payload.ErrUnknownSlot):
		return CCInvalidDataField
	case errors.Is(err, ErrUnknownCommand):
		return CCInvalidCommand
	case errors.Is(err, context.DeadlineExceeded):
		return CCTimeout
	}
	return CCUnspecifiedError
}
