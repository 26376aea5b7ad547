// Package networktables mirrors the key/value state of a NetworkTables
// websocket server into a local cache and notifies listeners of changes.
//
// A Client is the only entry point. Reads are served from the cache and
// never touch the network. Writes are sent to the server and show up in the
// cache only once the server echoes them back as an update, so GetValue does
// not reflect a PutValue until that round trip completes.
//
// The cache and connection state are reset every time the websocket closes;
// listener registrations survive reconnects.
package networktables

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ntws/ntws/internal/cache"
	"github.com/ntws/ntws/internal/config"
	"github.com/ntws/ntws/internal/listeners"
	"github.com/ntws/ntws/internal/transport"
	"github.com/ntws/ntws/internal/types"
)

// ErrUndefinedValue is returned by PutValue when called without a value.
// It signals a bug in the caller, not a connection problem.
var ErrUndefinedValue = types.ErrUndefinedValue

type (
	ConnectionListener = listeners.ConnectionFunc
	ValueListener      = listeners.ValueFunc
	Disposer           = listeners.Disposer
)

// ConnectionState is a snapshot of the client's view of the connection.
// ApplicationConnected is only ever true while TransportOpen is.
type ConnectionState struct {
	TransportOpen        bool
	ApplicationConnected bool
	PeerAddress          string
	HasPeerAddress       bool
}

// Conn is the connection a Client drives. *transport.Transport implements
// it.
type Conn interface {
	Connect(ctx context.Context)
	Reconnect()
	Send(data []byte) error
	Close() error
}

type Option func(*Client) error

func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics registers the client's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		m, err := newMetrics(reg, c.url)
		if err != nil {
			return err
		}
		c.metrics = m
		return nil
	}
}

// WithSettings replaces the transport settings. nil keeps the defaults.
func WithSettings(settings *transport.Settings) Option {
	return func(c *Client) error {
		if settings == nil {
			c.settings = transport.DefaultSettings()
			return nil
		}
		cp := *settings
		c.settings = &cp
		return nil
	}
}

// WithHeader adds headers to every websocket handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) error {
		for k, vs := range h {
			for _, v := range vs {
				c.header.Add(k, v)
			}
		}
		return nil
	}
}

// Client is one synchronization context: a cache, a connection state, a
// listener registry and the transport feeding them. Inbound frames are
// applied on the transport's goroutine one at a time, so every listener for
// a frame has returned before the next frame is applied.
type Client struct {
	url      string
	logger   hclog.Logger
	metrics  *Metrics
	settings *transport.Settings
	header   http.Header

	cache     *cache.Cache
	listeners *listeners.Registry
	conn      Conn

	mu    sync.RWMutex
	state ConnectionState
}

// New creates a client for the websocket at url. It does not connect until
// Connect is called.
func New(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:      url,
		logger:   hclog.NewNullLogger(),
		settings: transport.DefaultSettings(),
		header:   http.Header{},
		cache:    cache.New(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.listeners = listeners.New(source{c}, c.logger.Named("listeners"))

	settings := *c.settings
	settings.Header = settings.Header.Clone()
	if settings.Header == nil {
		settings.Header = http.Header{}
	}
	for k, vs := range c.header {
		settings.Header[k] = append(settings.Header[k], vs...)
	}
	c.conn = transport.New(url, handler{c}, &settings, c.logger.Named("transport"))
	return c, nil
}

// NewFromConfig creates a client for the endpoint and timings in cfg.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	settings := &transport.Settings{
		ReconnectDelay:   cfg.ReconnectDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
	}
	return New(cfg.URL(), append([]Option{WithSettings(settings)}, opts...)...)
}

func (c *Client) URL() string { return c.url }

// Connect starts connecting in the background. Calling it again has no
// effect.
func (c *Client) Connect(ctx context.Context) {
	c.logger.Info("connecting", "url", c.url)
	c.conn.Connect(ctx)
}

// Reconnect drops the current connection and starts over.
func (c *Client) Reconnect() {
	c.conn.Reconnect()
}

// Close disconnects for good. Listeners see the final disconnect before
// Close returns. Close must not be called from a listener.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PutValue sends a value for key to the server and reports whether it was
// sent. It returns false without error when the websocket is not open; the
// value is then discarded. A nil value returns ErrUndefinedValue and a value
// NetworkTables cannot carry returns types.ErrUnsupportedValue.
//
// The local cache is not updated; the new value is visible through GetValue
// once the server sends it back.
func (c *Client) PutValue(key string, value any) (bool, error) {
	v, err := types.ValueOf(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	if !c.IsTransportConnected() {
		c.metrics.write("not_open")
		return false, nil
	}

	data, err := types.EncodeWrite(key, v)
	if err != nil {
		return false, err
	}
	if err := c.conn.Send(data); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			c.metrics.write("not_open")
		} else {
			c.logger.Warn("write failed", "key", key, "error", err)
			c.metrics.write("error")
		}
		return false, nil
	}
	c.metrics.write("sent")
	return true, nil
}

// SetValue is the old name of PutValue.
//
// Deprecated: use PutValue.
func (c *Client) SetValue(key string, value any) (bool, error) {
	return c.PutValue(key, value)
}

// GetValue returns the cached value of key, or def if the key is unknown.
func (c *Client) GetValue(key string, def types.Value) types.Value {
	return c.cache.GetOr(key, def)
}

// Lookup returns the cached value of key.
func (c *Client) Lookup(key string) (types.Value, bool) {
	return c.cache.Get(key)
}

func (c *Client) ContainsKey(key string) bool {
	return c.cache.Has(key)
}

// GetKeys returns every cached key, in no particular order.
func (c *Client) GetKeys() []string {
	return c.cache.Keys()
}

// Snapshot returns every cached key and value.
func (c *Client) Snapshot() []cache.Entry {
	return c.cache.Snapshot()
}

func (c *Client) IsTransportConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TransportOpen
}

// IsApplicationConnected reports whether the server has announced that the
// robot is connected.
func (c *Client) IsApplicationConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ApplicationConnected
}

// PeerAddress returns the robot address last announced by the server.
func (c *Client) PeerAddress() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.PeerAddress, c.state.HasPeerAddress
}

func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AddTransportConnectionListener calls f whenever the websocket opens or
// closes. With immediateNotify, f is first called with the current state
// before this returns.
func (c *Client) AddTransportConnectionListener(f ConnectionListener, immediateNotify bool) Disposer {
	return c.listeners.AddTransportListener(f, immediateNotify)
}

// AddApplicationConnectionListener calls f whenever the server announces
// the robot connecting or disconnecting, and with false when the websocket
// closes.
func (c *Client) AddApplicationConnectionListener(f ConnectionListener, immediateNotify bool) Disposer {
	return c.listeners.AddApplicationListener(f, immediateNotify)
}

// AddGlobalListener calls f for every value update. With immediateNotify, f
// is first called once for every cached key.
func (c *Client) AddGlobalListener(f ValueListener, immediateNotify bool) Disposer {
	return c.listeners.AddGlobalListener(f, immediateNotify)
}

// AddKeyListener calls f for every update of key. With immediateNotify and
// key cached, f is first called with the cached value.
func (c *Client) AddKeyListener(key string, f ValueListener, immediateNotify bool) Disposer {
	return c.listeners.AddKeyListener(key, f, immediateNotify)
}

// handler receives transport events. It is the only writer of the cache
// and the connection state.
type handler struct{ c *Client }

func (h handler) HandleOpen() {
	c := h.c
	c.mu.Lock()
	c.state.TransportOpen = true
	state := c.state
	c.mu.Unlock()

	c.metrics.setState(state)
	c.logger.Info("websocket opened")
	c.listeners.NotifyTransport(true)
}

func (h handler) HandleMessage(data []byte) {
	c := h.c
	if !c.IsTransportConnected() {
		c.metrics.frameDropped("not_open")
		return
	}
	frame, err := types.DecodeFrame(data)
	if err != nil {
		c.logger.Debug("dropping malformed frame", "error", err, "bytes", len(data))
		c.metrics.frameDropped("malformed")
		return
	}

	switch f := frame.(type) {
	case *types.UpdateFrame:
		c.cache.Set(f.Key, f.Value)
		c.metrics.frameReceived("update")
		c.metrics.setCachedKeys(c.cache.Len())
		c.listeners.NotifyValue(f.Key, f.Value, f.IsNew)
	case *types.AnnounceFrame:
		c.mu.Lock()
		c.state.ApplicationConnected = f.Connected
		c.state.PeerAddress, c.state.HasPeerAddress = "", false
		if f.Connected {
			c.state.PeerAddress, c.state.HasPeerAddress = f.PeerAddress()
		}
		state := c.state
		c.mu.Unlock()

		c.metrics.frameReceived("announce")
		c.metrics.setState(state)
		c.logger.Info("robot connection announced", "connected", state.ApplicationConnected, "address", state.PeerAddress)
		c.listeners.NotifyApplication(f.Connected)
	}
}

// HandleClose resets the cache and connection state, then tells the
// listeners: a close listener already sees the empty cache and
// IsTransportConnected() == false. Listeners are told only when the
// connection had been open; a failed attempt just counts.
func (h handler) HandleClose(err error) {
	c := h.c
	c.mu.Lock()
	wasOpen := c.state.TransportOpen
	c.state = ConnectionState{}
	c.mu.Unlock()

	dropped := c.cache.Clear()
	c.metrics.disconnect(wasOpen)
	c.metrics.setState(ConnectionState{})
	c.metrics.setCachedKeys(0)

	if !wasOpen {
		c.logger.Debug("connection attempt failed", "error", err)
		return
	}
	c.logger.Info("websocket closed", "error", err, "dropped_keys", dropped)

	c.listeners.NotifyTransport(false)
	c.listeners.NotifyApplication(false)
}

// source feeds current state to immediate-notify registrations.
type source struct{ c *Client }

func (s source) TransportOpen() bool                   { return s.c.IsTransportConnected() }
func (s source) ApplicationConnected() bool            { return s.c.IsApplicationConnected() }
func (s source) Lookup(key string) (types.Value, bool) { return s.c.cache.Get(key) }
func (s source) Snapshot() []cache.Entry               { return s.c.cache.Snapshot() }
