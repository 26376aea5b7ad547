// Package listeners fans connection and value changes out to registered
// callbacks.
//
// There are four kinds of interest: transport connection, application
// (robot) connection, every value, and the value of one key. Listeners of a
// kind are called in registration order; for a value change all global
// listeners run before the listeners of that key.
package listeners

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/ntws/ntws/internal/cache"
	"github.com/ntws/ntws/internal/types"
)

// Interest identifies what a registration listens to.
type Interest int

const (
	TransportConnection Interest = iota + 1
	ApplicationConnection
	GlobalValue
	KeyValue
)

func (i Interest) String() string {
	switch i {
	case TransportConnection:
		return "transport-connection"
	case ApplicationConnection:
		return "application-connection"
	case GlobalValue:
		return "global-value"
	case KeyValue:
		return "key-value"
	default:
		return fmt.Sprintf("interest(%d)", int(i))
	}
}

// ConnectionFunc receives connection state changes.
type ConnectionFunc func(connected bool)

// ValueFunc receives value changes. isNew is the server's flag, not
// computed locally.
type ValueFunc func(key string, value types.Value, isNew bool)

// Disposer removes the registration that returned it. Calling it more than
// once is harmless.
type Disposer func()

// Source supplies the current state replayed to listeners registered with
// immediate notification.
type Source interface {
	TransportOpen() bool
	ApplicationConnected() bool
	Lookup(key string) (types.Value, bool)
	Snapshot() []cache.Entry
}

type registration struct {
	id       uint64
	interest Interest
	key      string
	conn     ConnectionFunc
	value    ValueFunc

	// mu serializes calls into the listener.
	mu sync.Mutex
}

// Registry owns the registration records. Lists are copy-on-write so that
// dispatch never holds the registry lock while a callback runs; a callback
// may add or dispose registrations, which take effect from the next
// dispatch. Calls into one listener never overlap, whether they come from
// a notification or from its own immediate replay.
type Registry struct {
	src    Source
	logger hclog.Logger

	mu          sync.RWMutex
	nextID      uint64
	transport   []*registration
	application []*registration
	global      []*registration
	keyed       map[string][]*registration
}

func New(src Source, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		src:    src,
		logger: logger,
		keyed:  make(map[string][]*registration),
	}
}

// AddTransportListener registers f for transport open/close. With immediate
// set, f is called with the current state before this returns.
func (r *Registry) AddTransportListener(f ConnectionFunc, immediate bool) Disposer {
	reg := &registration{interest: TransportConnection, conn: f}
	if !immediate {
		return r.register(reg, nil)
	}
	return r.register(reg, func() {
		r.callConn(reg, r.src.TransportOpen())
	})
}

// AddApplicationListener registers f for robot connect/disconnect
// announcements. With immediate set, f is called with the current state
// before this returns.
func (r *Registry) AddApplicationListener(f ConnectionFunc, immediate bool) Disposer {
	reg := &registration{interest: ApplicationConnection, conn: f}
	if !immediate {
		return r.register(reg, nil)
	}
	return r.register(reg, func() {
		r.callConn(reg, r.src.ApplicationConnected())
	})
}

// AddGlobalListener registers f for every value change. With immediate
// set, f is called once per cached key with isNew=true before this returns.
func (r *Registry) AddGlobalListener(f ValueFunc, immediate bool) Disposer {
	reg := &registration{interest: GlobalValue, value: f}
	if !immediate {
		return r.register(reg, nil)
	}
	return r.register(reg, func() {
		for _, e := range r.src.Snapshot() {
			r.callValue(reg, e.Key, e.Value, true)
		}
	})
}

// AddKeyListener registers f for changes of key. With immediate set and the
// key cached, f is called once with isNew=true before this returns.
func (r *Registry) AddKeyListener(key string, f ValueFunc, immediate bool) Disposer {
	reg := &registration{interest: KeyValue, key: key, value: f}
	if !immediate {
		return r.register(reg, nil)
	}
	return r.register(reg, func() {
		if v, ok := r.src.Lookup(key); ok {
			r.callValue(reg, key, v, true)
		}
	})
}

// register publishes reg and runs replay while holding reg's call lock. A
// notification that finds reg waits for the replay, and one that missed it
// happened before replay read the source, so the listener never ends on a
// stale state.
func (r *Registry) register(reg *registration, replay func()) Disposer {
	if replay == nil {
		r.add(reg)
		return r.disposer(reg)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r.add(reg)
	replay()
	return r.disposer(reg)
}

// NotifyTransport calls every transport listener with open.
func (r *Registry) NotifyTransport(open bool) {
	r.mu.RLock()
	regs := r.transport
	r.mu.RUnlock()
	for _, reg := range regs {
		reg.mu.Lock()
		r.callConn(reg, open)
		reg.mu.Unlock()
	}
}

// NotifyApplication calls every application listener with connected.
func (r *Registry) NotifyApplication(connected bool) {
	r.mu.RLock()
	regs := r.application
	r.mu.RUnlock()
	for _, reg := range regs {
		reg.mu.Lock()
		r.callConn(reg, connected)
		reg.mu.Unlock()
	}
}

// NotifyValue calls every global listener, then every listener of key.
// Callers update the source before notifying.
func (r *Registry) NotifyValue(key string, v types.Value, isNew bool) {
	r.mu.RLock()
	global := r.global
	keyed := r.keyed[key]
	r.mu.RUnlock()
	for _, reg := range append(append([]*registration(nil), global...), keyed...) {
		reg.mu.Lock()
		r.callValue(reg, key, v, isNew)
		reg.mu.Unlock()
	}
}

// Count returns the number of live registrations of an interest. For
// KeyValue it counts the registrations of key; key is ignored otherwise.
func (r *Registry) Count(interest Interest, key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch interest {
	case TransportConnection:
		return len(r.transport)
	case ApplicationConnection:
		return len(r.application)
	case GlobalValue:
		return len(r.global)
	case KeyValue:
		return len(r.keyed[key])
	}
	return 0
}

func (r *Registry) add(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reg.id = r.nextID
	switch reg.interest {
	case TransportConnection:
		r.transport = append(slices.Clip(r.transport), reg)
	case ApplicationConnection:
		r.application = append(slices.Clip(r.application), reg)
	case GlobalValue:
		r.global = append(slices.Clip(r.global), reg)
	case KeyValue:
		r.keyed[reg.key] = append(slices.Clip(r.keyed[reg.key]), reg)
	}
}

func (r *Registry) disposer(reg *registration) Disposer {
	var once sync.Once
	return func() {
		once.Do(func() { r.remove(reg) })
	}
}

func (r *Registry) remove(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch reg.interest {
	case TransportConnection:
		r.transport = without(r.transport, reg.id)
	case ApplicationConnection:
		r.application = without(r.application, reg.id)
	case GlobalValue:
		r.global = without(r.global, reg.id)
	case KeyValue:
		rest := without(r.keyed[reg.key], reg.id)
		if len(rest) == 0 {
			delete(r.keyed, reg.key)
		} else {
			r.keyed[reg.key] = rest
		}
	}
}

// without returns a new slice lacking the registration with id; the input
// may still be in use by a dispatch and is left untouched.
func without(regs []*registration, id uint64) []*registration {
	out := make([]*registration, 0, len(regs))
	for _, reg := range regs {
		if reg.id != id {
			out = append(out, reg)
		}
	}
	return out
}

func (r *Registry) callConn(reg *registration, connected bool) {
	defer r.recoverListener(reg)
	reg.conn(connected)
}

func (r *Registry) callValue(reg *registration, key string, v types.Value, isNew bool) {
	defer r.recoverListener(reg)
	reg.value(key, v, isNew)
}

// recoverListener keeps one failing listener from stopping the fan-out.
func (r *Registry) recoverListener(reg *registration) {
	if p := recover(); p != nil {
		r.logger.Error("listener panicked", "interest", reg.interest, "key", reg.key, "id", reg.id, "panic", p)
	}
}
