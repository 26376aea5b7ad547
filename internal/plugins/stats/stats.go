package stats

import (
	"flag"
	"sync"
	"time"

	"github.com/ntws/ntws/internal/hooks"
	"github.com/ntws/ntws/internal/types"
)

// UpdateEntry is a single value update held in memory.
type UpdateEntry struct {
	ID        int
	Key       string
	Value     types.Value
	IsNew     bool
	Timestamp time.Time
}

// Event is a connection transition, of the websocket ("transport") or of
// the robot behind the server ("robot").
type Event struct {
	ID        int
	Kind      string
	Connected bool
	Timestamp time.Time
}

// KeyStats holds aggregate stats for one key. They outlive disconnects,
// unlike the client cache.
type KeyStats struct {
	Key       string
	Kind      types.Kind
	Updates   int
	NewCount  int
	FirstSeen time.Time
	LastSeen  time.Time
	Last      types.Value
}

type Summary struct {
	Keys         int
	TotalUpdates int
	Connects     int
	Disconnects  int
	ConnectedAt  time.Time
}

// Store is the in-memory stats store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	keys     map[string]*KeyStats
	keyOrder []string      // first-seen order for stable iteration
	updates  []UpdateEntry // ring buffer
	events   []Event       // ring buffer
	maxLogs  int
	nextID   int

	connects    int
	disconnects int
	connectedAt time.Time

	now func() time.Time
}

func NewStore(maxLogs int) *Store {
	return &Store{
		keys:    make(map[string]*KeyStats),
		maxLogs: maxLogs,
		now:     time.Now,
	}
}

func (s *Store) RecordUpdate(key string, v types.Value, isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	ks, ok := s.keys[key]
	if !ok {
		ks = &KeyStats{Key: key, FirstSeen: now}
		s.keys[key] = ks
		s.keyOrder = append(s.keyOrder, key)
	}
	ks.Kind = v.Kind()
	ks.Updates++
	if isNew {
		ks.NewCount++
	}
	ks.LastSeen = now
	ks.Last = v

	s.nextID++
	s.updates = ring(s.updates, UpdateEntry{ID: s.nextID, Key: key, Value: v, IsNew: isNew, Timestamp: now}, s.maxLogs)
}

func (s *Store) RecordTransport(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.connects++
		s.connectedAt = s.now()
	} else {
		s.disconnects++
		s.connectedAt = time.Time{}
	}
	s.recordEventLocked("transport", open)
}

func (s *Store) RecordRobot(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordEventLocked("robot", connected)
}

func (s *Store) recordEventLocked(kind string, connected bool) {
	s.nextID++
	s.events = ring(s.events, Event{ID: s.nextID, Kind: kind, Connected: connected, Timestamp: s.now()}, s.maxLogs)
}

// Keys returns a copy of all key stats in first-seen order.
func (s *Store) Keys() []KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KeyStats, 0, len(s.keyOrder))
	for _, k := range s.keyOrder {
		out = append(out, *s.keys[k])
	}
	return out
}

// RecentUpdates returns the last n updates, oldest first.
func (s *Store) RecentUpdates(n int) []UpdateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.updates, n)
}

// RecentEvents returns the last n connection events, oldest first.
func (s *Store) RecentEvents(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.events, n)
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{
		Keys:        len(s.keys),
		Connects:    s.connects,
		Disconnects: s.disconnects,
		ConnectedAt: s.connectedAt,
	}
	for _, ks := range s.keys {
		sum.TotalUpdates += ks.Updates
	}
	return sum
}

// ring appends e, keeping only the last limit entries.
func ring[T any](buf []T, e T, limit int) []T {
	if limit <= 0 {
		return buf
	}
	if len(buf) >= limit {
		return append(buf[1:], e)
	}
	return append(buf, e)
}

func tail[T any](buf []T, n int) []T {
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]T, n)
	copy(out, buf[len(buf)-n:])
	return out
}

// --- Plugin wiring ---

// Plugin implements hooks.Plugin for in-memory stats collection and the
// local inspection API. Controlled by a single -inspect-addr flag: an empty
// address disables everything.
type Plugin struct {
	hooks.Base
	addr   string
	store  *Store
	server *Server
}

func New() *Plugin {
	return &Plugin{
		store: NewStore(1000),
	}
}

func (p *Plugin) Name() string { return "stats" }
func (p *Plugin) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&p.addr, "inspect-addr", "127.0.0.1:9999", "Inspection API listen address (empty to disable stats entirely)")
}
func (p *Plugin) Enabled() bool { return p.addr != "" }

// Store returns the underlying store for external consumers.
func (p *Plugin) Store() *Store { return p.store }

// Server returns the running inspection server, or nil.
func (p *Plugin) Server() *Server { return p.server }

// Attach records every update and connection change of the client and
// starts the inspection API.
func (p *Plugin) Attach(h *hooks.Host) (func(), error) {
	router := NewRouter(p.store, h.Client, h.Gatherer, h.Middleware...)
	srv, err := StartServer(router, p.addr, h.Logger)
	if err != nil {
		return nil, err
	}
	p.server = srv
	h.Logger.Info("inspection API listening", "url", "http://"+srv.Addr())

	disposers := []func(){
		h.Client.AddTransportConnectionListener(p.store.RecordTransport, false),
		h.Client.AddApplicationConnectionListener(p.store.RecordRobot, false),
		h.Client.AddGlobalListener(p.store.RecordUpdate, true),
	}
	return func() {
		for _, d := range disposers {
			d()
		}
		if err := srv.Close(); err != nil {
			h.Logger.Warn("inspection API shutdown", "error", err)
		}
		p.server = nil
	}, nil
}
