package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind string // open, message, close
	data string
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 256)}
}

func (r *recorder) HandleOpen()               { r.events <- event{kind: "open"} }
func (r *recorder) HandleMessage(data []byte) { r.events <- event{kind: "message", data: string(data)} }
func (r *recorder) HandleClose(err error)     { r.events <- event{kind: "close"} }

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return event{}
	}
}

func (r *recorder) expect(t *testing.T, kind string) event {
	t.Helper()
	ev := r.next(t)
	require.Equal(t, kind, ev.kind, "unexpected event %+v", ev)
	return ev
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newServer starts a websocket server that runs serve for every connection.
func newServer(t *testing.T, serve func(conn *websocket.Conn, r *http.Request)) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn, r)
	}))
	t.Cleanup(server.Close)
	return server, "ws" + strings.TrimPrefix(server.URL, "http") + "/networktables/ws"
}

func testSettings() *Settings {
	return &Settings{
		ReconnectDelay:   20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}
}

func TestTransport_DeliversFramesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conns.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"k":"/x","v":1,"n":true}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"r":true}`))
		time.Sleep(20 * time.Millisecond)
	})

	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	tr.Connect(context.Background())
	defer tr.Close()

	rec.expect(t, "open")
	assert.Equal(t, `{"k":"/x","v":1,"n":true}`, rec.expect(t, "message").data)
	assert.Equal(t, `{"r":true}`, rec.expect(t, "message").data, "binary frames are skipped")
	rec.expect(t, "close")

	// The server hung up; the loop dials again after the delay.
	rec.expect(t, "open")
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestTransport_RetriesForeverWhenServerIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rec := newRecorder()
	tr := New("ws://"+addr+"/networktables/ws", rec, testSettings(), nil)
	tr.Connect(context.Background())
	defer tr.Close()

	for i := 0; i < 3; i++ {
		rec.expect(t, "close")
	}
	assert.GreaterOrEqual(t, tr.Attempts(), uint64(3))
	assert.NotEqual(t, StateOpen, tr.State())
}

func TestTransport_Send(t *testing.T) {
	received := make(chan string, 1)
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	})

	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	assert.ErrorIs(t, tr.Send([]byte("early")), ErrNotOpen)

	tr.Connect(context.Background())
	defer tr.Close()
	rec.expect(t, "open")

	require.NoError(t, tr.Send([]byte(`{"k":"/x","v":2}`)))
	select {
	case got := <-received:
		assert.Equal(t, `{"k":"/x","v":2}`, got)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestTransport_SendsHandshakeHeader(t *testing.T) {
	auth := make(chan string, 4)
	_, url := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		_, _, _ = conn.ReadMessage()
	})

	settings := testSettings()
	settings.Header = http.Header{"Authorization": []string{"Basic dTpw"}}
	rec := newRecorder()
	tr := New(url, rec, settings, nil)
	tr.Connect(context.Background())
	defer tr.Close()

	rec.expect(t, "open")
	assert.Equal(t, "Basic dTpw", <-auth)
}

func TestTransport_ReconnectReplacesConnection(t *testing.T) {
	var conns atomic.Int32
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conns.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	tr.Connect(context.Background())
	defer tr.Close()

	rec.expect(t, "open")
	tr.Reconnect()
	rec.expect(t, "close")
	rec.expect(t, "open")
	assert.Equal(t, StateOpen, tr.State())
	assert.Eventually(t, func() bool { return conns.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	var conns atomic.Int32
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conns.Add(1)
		_, _, _ = conn.ReadMessage()
	})

	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	tr.Connect(context.Background())
	tr.Connect(context.Background())
	defer tr.Close()

	rec.expect(t, "open")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), conns.Load())
}

func TestTransport_CloseStopsTheLoop(t *testing.T) {
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	tr.Connect(context.Background())
	rec.expect(t, "open")

	require.NoError(t, tr.Close())
	rec.expect(t, "close")
	assert.Equal(t, StateStopped, tr.State())
	assert.ErrorIs(t, tr.Send([]byte("late")), ErrNotOpen)

	attempts := tr.Attempts()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, attempts, tr.Attempts(), "no attempts after Close")

	require.NoError(t, tr.Close())
	tr.Connect(context.Background())
	assert.Equal(t, StateStopped, tr.State())
}

func TestTransport_ContextCancelStops(t *testing.T) {
	_, url := newServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	tr := New(url, rec, testSettings(), nil)
	tr.Connect(ctx)
	rec.expect(t, "open")

	cancel()
	rec.expect(t, "close")
	assert.Eventually(t, func() bool { return tr.State() == StateStopped }, 5*time.Second, 10*time.Millisecond)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateConnecting))
	assert.True(t, CanTransition(StateConnecting, StateOpen))
	assert.True(t, CanTransition(StateConnecting, StateRetryWait))
	assert.True(t, CanTransition(StateOpen, StateRetryWait))
	assert.True(t, CanTransition(StateRetryWait, StateConnecting))
	assert.True(t, CanTransition(StateOpen, StateStopped))

	assert.False(t, CanTransition(StateIdle, StateOpen))
	assert.False(t, CanTransition(StateOpen, StateConnecting))
	assert.False(t, CanTransition(StateRetryWait, StateOpen))
	assert.False(t, CanTransition(StateStopped, StateConnecting))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "retry-wait", StateRetryWait.String())
	assert.Equal(t, "state(42)", State(42).String())
}
