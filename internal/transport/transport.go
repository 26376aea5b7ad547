// Package transport keeps one websocket connection to a fixed endpoint alive,
// reconnecting after a fixed delay whenever it drops.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// ErrNotOpen is returned by Send when no connection is established.
var ErrNotOpen = errors.New("transport not open")

// Handler receives connection events. All calls are made from the single
// run goroutine, in order, and one at a time.
type Handler interface {
	HandleOpen()
	// HandleMessage receives each text frame in arrival order.
	HandleMessage(data []byte)
	// HandleClose is called when a connection ends or an attempt fails.
	// It may be called without a preceding HandleOpen.
	HandleClose(err error)
}

type Settings struct {
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration
	// Header is sent with every handshake.
	Header http.Header
}

func DefaultSettings() *Settings {
	return &Settings{
		ReconnectDelay:   300 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Transport owns at most one websocket connection at a time. Connect starts
// a loop that dials, serves the connection until it fails, waits
// ReconnectDelay and dials again, forever, until Close.
type Transport struct {
	url      string
	handler  Handler
	settings Settings
	dialer   *websocket.Dialer
	logger   hclog.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	abort  context.CancelFunc // ends the current attempt
	cancel context.CancelFunc // ends the run loop
	done   chan struct{}

	// gorilla/websocket does not support concurrent writers.
	wmu sync.Mutex

	attempts atomic.Uint64
}

func New(url string, handler Handler, settings *Settings, logger hclog.Logger) *Transport {
	s := DefaultSettings()
	if settings != nil {
		cp := *settings
		s = &cp
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = DefaultSettings().ReconnectDelay
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Transport{
		url:      url,
		handler:  handler,
		settings: *s,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.HandshakeTimeout,
		},
		logger: logger,
		state:  StateIdle,
	}
}

func (t *Transport) URL() string { return t.url }

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns how many connection attempts have been started.
func (t *Transport) Attempts() uint64 {
	return t.attempts.Load()
}

// Connect starts the connection loop. Only the first call has any effect;
// the loop then runs until ctx is done or Close is called.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.transitionLocked(StateConnecting)
	go t.run(runCtx)
}

// Reconnect drops the current connection, or aborts the dial in progress,
// so that the loop goes through close handling and starts over. The old
// socket is closed before a new attempt begins.
func (t *Transport) Reconnect() {
	t.mu.Lock()
	abort := t.abort
	t.mu.Unlock()
	if abort != nil {
		t.logger.Debug("reconnect requested")
		abort()
	}
}

// Send writes one text frame. It returns ErrNotOpen when there is no
// established connection.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.settings.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.settings.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close stops the loop, closes any open connection and waits for the final
// HandleClose, also when the loop was already stopped by its context. It
// must not be called from inside a Handler method.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.transitionLocked(StateStopped)
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	for {
		t.connectAndServe(ctx)

		if !t.transition(StateRetryWait) {
			return
		}
		t.logger.Debug("retrying", "delay", t.settings.ReconnectDelay)
		timer := time.NewTimer(t.settings.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.transition(StateStopped)
			return
		case <-timer.C:
		}
		if !t.transition(StateConnecting) {
			return
		}
	}
}

func (t *Transport) connectAndServe(ctx context.Context) {
	attemptCtx, abort := context.WithCancel(ctx)
	defer abort()

	t.mu.Lock()
	t.abort = abort
	t.mu.Unlock()
	t.attempts.Add(1)

	log := t.logger.With("session", uuid.NewString())
	log.Debug("connecting", "url", t.url)

	conn, _, err := t.dialer.DialContext(attemptCtx, t.url, t.settings.Header.Clone())
	if err != nil {
		log.Debug("connect failed", "error", err)
		t.handler.HandleClose(err)
		return
	}

	t.mu.Lock()
	if attemptCtx.Err() != nil || !t.transitionLocked(StateOpen) {
		t.mu.Unlock()
		conn.Close()
		t.handler.HandleClose(context.Canceled)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	// Unblocks ReadMessage when the attempt is aborted or the loop stops.
	go func() {
		<-attemptCtx.Done()
		conn.Close()
	}()
	if t.settings.PingInterval > 0 {
		go t.keepalive(attemptCtx, conn, log)
	}

	log.Info("connection established", "url", t.url)
	t.handler.HandleOpen()

	err = t.readLoop(conn, log)

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	abort()

	log.Info("connection closed", "error", err)
	t.handler.HandleClose(err)
}

func (t *Transport) readLoop(conn *websocket.Conn, log hclog.Logger) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			log.Debug("ignoring non-text frame", "type", msgType, "bytes", len(data))
			continue
		}
		t.handler.HandleMessage(data)
	}
}

// keepalive sends ping control frames so idle connections are not dropped
// by intermediaries. WriteControl may be used alongside WriteMessage.
func (t *Transport) keepalive(ctx context.Context, conn *websocket.Conn, log hclog.Logger) {
	ticker := time.NewTicker(t.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.pingTimeout())
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

func (t *Transport) pingTimeout() time.Duration {
	if t.settings.WriteTimeout > 0 {
		return t.settings.WriteTimeout
	}
	return 5 * time.Second
}

func (t *Transport) transition(to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

// transitionLocked moves to the next state. It reports false once the
// transport is stopped; any other illegal move is a bug.
func (t *Transport) transitionLocked(to State) bool {
	if t.state == StateStopped {
		return false
	}
	if !CanTransition(t.state, to) {
		panic(fmt.Sprintf("transport: illegal transition %s -> %s", t.state, to))
	}
	t.logger.Trace("state change", "from", t.state, "to", to)
	t.state = to
	return true
}
