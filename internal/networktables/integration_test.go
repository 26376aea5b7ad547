package networktables

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntws/ntws/internal/transport"
	"github.com/ntws/ntws/internal/types"
)

// echoServer announces a robot on every connection and echoes every write
// back as a value update, the way a NetworkTables bridge does.
func echoServer(t *testing.T) (string, chan struct{}) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	hangup := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		addr := "10.0.0.2"
		announce, _ := types.EncodeFrame(&types.AnnounceFrame{Connected: true, Address: &addr})
		_ = conn.WriteMessage(websocket.TextMessage, announce)

		writes := make(chan *types.WriteFrame)
		go func() {
			defer close(writes)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if w, err := types.DecodeWrite(data); err == nil {
					writes <- w
				}
			}
		}()

		seen := map[string]bool{}
		for {
			select {
			case w, ok := <-writes:
				if !ok {
					return
				}
				update, _ := types.EncodeFrame(&types.UpdateFrame{Key: w.Key, Value: w.Value, IsNew: !seen[w.Key]})
				seen[w.Key] = true
				_ = conn.WriteMessage(websocket.TextMessage, update)
			case <-hangup:
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/networktables/ws", hangup
}

func TestClient_AgainstServer(t *testing.T) {
	url, hangup := echoServer(t)
	c, err := New(url, WithSettings(&transport.Settings{
		ReconnectDelay:   20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}))
	require.NoError(t, err)

	transportEvents := make(chan bool, 16)
	values := make(chan types.Value, 16)
	c.AddTransportConnectionListener(func(open bool) { transportEvents <- open }, false)
	c.AddKeyListener("/SmartDashboard/mode", func(_ string, v types.Value, _ bool) { values <- v }, false)

	c.Connect(context.Background())
	defer c.Close()

	require.True(t, waitBool(t, transportEvents))
	require.Eventually(t, c.IsApplicationConnected, 5*time.Second, 10*time.Millisecond)
	addr, ok := c.PeerAddress()
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2", addr)

	sent, err := c.PutValue("/SmartDashboard/mode", "auto")
	require.NoError(t, err)
	require.True(t, sent)

	select {
	case v := <-values:
		assert.Equal(t, types.StringValue("auto"), v)
	case <-time.After(5 * time.Second):
		t.Fatal("write was never echoed")
	}
	assert.Equal(t, types.StringValue("auto"), c.GetValue("/SmartDashboard/mode", types.Value{}))

	hangup <- struct{}{}
	require.False(t, waitBool(t, transportEvents))
	require.True(t, waitBool(t, transportEvents), "reconnects after the server hangs up")
	assert.False(t, c.ContainsKey("/SmartDashboard/mode"), "cache starts empty after reconnect")
}

func waitBool(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection event")
		return false
	}
}
