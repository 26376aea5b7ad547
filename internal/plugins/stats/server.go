package stats

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ntws/ntws/internal/escape"
	"github.com/ntws/ntws/internal/networktables"
	"github.com/ntws/ntws/internal/types"
)

// Values is the part of the client the API reads and writes through.
type Values interface {
	Lookup(key string) (types.Value, bool)
	PutValue(key string, value any) (bool, error)
	State() networktables.ConnectionState
}

// JSON response types

type keyJSON struct {
	Key       string      `json:"key"`
	ID        string      `json:"id"`
	Selector  string      `json:"selector"`
	Kind      string      `json:"kind"`
	Updates   int         `json:"updates"`
	NewCount  int         `json:"new_count"`
	FirstSeen int64       `json:"first_seen"`
	LastSeen  int64       `json:"last_seen"`
	Value     types.Value `json:"value"`
	Cached    bool        `json:"cached"`
}

type updateJSON struct {
	ID        int         `json:"id"`
	Key       string      `json:"key"`
	Value     types.Value `json:"value"`
	IsNew     bool        `json:"is_new"`
	CreatedAt int64       `json:"created_at"`
}

type eventJSON struct {
	ID        int    `json:"id"`
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	CreatedAt int64  `json:"created_at"`
}

type summaryJSON struct {
	TransportOpen  bool    `json:"transport_open"`
	RobotConnected bool    `json:"robot_connected"`
	PeerAddress    *string `json:"peer_address"`
	Keys           int     `json:"keys"`
	TotalUpdates   int     `json:"total_updates"`
	Connects       int     `json:"connects"`
	Disconnects    int     `json:"disconnects"`
	ConnectedAt    int64   `json:"connected_at,omitempty"`
}

type router struct {
	store  *Store
	values Values
}

// NewRouter builds the inspection API. middleware runs in front of every
// route; a nil gatherer leaves out /metrics.
func NewRouter(store *Store, values Values, gatherer prometheus.Gatherer, middleware ...gin.HandlerFunc) *gin.Engine {
	r := &router{store: store, values: values}

	engine := gin.New()
	// Served directly, never behind a proxy: ClientIP is the peer address.
	_ = engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery(), cors)
	engine.Use(middleware...)

	api := engine.Group("/api")
	api.GET("/stats/summary", r.summary)
	api.GET("/stats/keys", r.keys)
	api.GET("/stats/updates", r.updates)
	api.GET("/stats/events", r.events)
	api.GET("/values/*key", r.getValue)
	api.PUT("/values/*key", r.putValue)

	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return engine
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (r *router) summary(c *gin.Context) {
	sum := r.store.Summary()
	state := r.values.State()
	out := summaryJSON{
		TransportOpen:  state.TransportOpen,
		RobotConnected: state.ApplicationConnected,
		Keys:           sum.Keys,
		TotalUpdates:   sum.TotalUpdates,
		Connects:       sum.Connects,
		Disconnects:    sum.Disconnects,
	}
	if state.HasPeerAddress {
		addr := state.PeerAddress
		out.PeerAddress = &addr
	}
	if !sum.ConnectedAt.IsZero() {
		out.ConnectedAt = sum.ConnectedAt.Unix()
	}
	c.JSON(http.StatusOK, gin.H{"summary": out})
}

func (r *router) keys(c *gin.Context) {
	snap := r.store.Keys()
	keys := make([]keyJSON, 0, len(snap))
	for _, ks := range snap {
		_, cached := r.values.Lookup(ks.Key)
		keys = append(keys, keyJSON{
			Key:       ks.Key,
			ID:        escape.ToIdentifier(ks.Key),
			Selector:  escape.ToSelector(ks.Key),
			Kind:      ks.Kind.String(),
			Updates:   ks.Updates,
			NewCount:  ks.NewCount,
			FirstSeen: ks.FirstSeen.Unix(),
			LastSeen:  ks.LastSeen.Unix(),
			Value:     ks.Last,
			Cached:    cached,
		})
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// limit reads ?limit=, defaulting to 100 and capped at 500.
func limit(c *gin.Context) int {
	n := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		n = v
	}
	if n > 500 {
		n = 500
	}
	return n
}

func (r *router) updates(c *gin.Context) {
	key := c.Query("key")
	entries := r.store.RecentUpdates(limit(c))

	// Newest first, optionally filtered by key.
	out := make([]updateJSON, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if key != "" && e.Key != key {
			continue
		}
		out = append(out, updateJSON{
			ID:        e.ID,
			Key:       e.Key,
			Value:     e.Value,
			IsNew:     e.IsNew,
			CreatedAt: e.Timestamp.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"updates": out})
}

func (r *router) events(c *gin.Context) {
	entries := r.store.RecentEvents(limit(c))
	out := make([]eventJSON, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, eventJSON{
			ID:        e.ID,
			Kind:      e.Kind,
			Connected: e.Connected,
			CreatedAt: e.Timestamp.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// valueKey returns the key addressed by the request: the path after
// /api/values, or the escaped identifier or selector given as ?id=.
func valueKey(c *gin.Context) (string, error) {
	if id := c.Query("id"); id != "" {
		return escape.Unescape(id)
	}
	return c.Param("key"), nil
}

func (r *router) getValue(c *gin.Context) {
	key, err := valueKey(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, ok := r.values.Lookup(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown key", "key": key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

func (r *router) putValue(c *gin.Context) {
	key, err := valueKey(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var v types.Value
	if err := v.UnmarshalJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sent, err := r.values.PutValue(key, v)
	switch {
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case !sent:
		c.JSON(http.StatusServiceUnavailable, gin.H{"key": key, "sent": false})
	default:
		c.JSON(http.StatusAccepted, gin.H{"key": key, "sent": true})
	}
}

// Server serves the inspection API locally.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// StartServer starts serving handler on addr. A port of 0 picks a free
// one; Addr reports the real address.
func StartServer(handler http.Handler, addr string, logger hclog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv:      &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("inspection server error", "error", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting briefly for requests in flight.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
