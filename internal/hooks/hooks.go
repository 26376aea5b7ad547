package hooks

import (
	"errors"
	"flag"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ntws/ntws/internal/networktables"
)

// ErrBadFlag is returned by plugins whose flag values cannot be used.
var ErrBadFlag = errors.New("bad flag value")

// Host is what an attached plugin gets to work with.
type Host struct {
	Client *networktables.Client
	// Gatherer serves the process metrics, including the client's.
	Gatherer prometheus.Gatherer
	// Middleware is contributed by every enabled plugin and guards any HTTP
	// surface a plugin exposes.
	Middleware []gin.HandlerFunc
	Logger     hclog.Logger
}

// --- Plugin interface ---

// Plugin is the self-contained unit of optional functionality.
// Each plugin registers its own CLI flags, decides if it's active,
// contributes handshake headers and HTTP middleware, and attaches to the
// client once it exists.
type Plugin interface {
	// Name returns a short identifier (e.g. "stats", "auth").
	Name() string
	// RegisterFlags is called before flag.Parse(); add your flags here.
	RegisterFlags(fs *flag.FlagSet)
	// Enabled returns true if the plugin should activate (check your flags).
	Enabled() bool
	// DialHeader returns headers to send with every websocket handshake, or
	// nil. It is called before the client is built.
	DialHeader() http.Header
	// Middleware returns gin handlers run in front of plugin HTTP APIs.
	Middleware() []gin.HandlerFunc
	// Attach starts the plugin against the client. The returned func undoes
	// it and may be nil.
	Attach(h *Host) (func(), error)
}

// Base is a convenience embed for plugins that only need some methods.
type Base struct{}

func (Base) DialHeader() http.Header       { return nil }
func (Base) Middleware() []gin.HandlerFunc { return nil }
func (Base) Attach(*Host) (func(), error)  { return nil, nil }
func (Base) RegisterFlags(*flag.FlagSet)   {}

// --- Pipeline ---

// Pipeline runs registered plugins in order. Zero-value is ready to use.
type Pipeline struct {
	plugins  []Plugin
	detaches []func()
}

// RegisterPlugin adds a plugin. Call before flag.Parse().
func (p *Pipeline) RegisterPlugin(pl Plugin) {
	p.plugins = append(p.plugins, pl)
}

// RegisterFlags calls RegisterFlags on all plugins.
func (p *Pipeline) RegisterFlags(fs *flag.FlagSet) {
	for _, pl := range p.plugins {
		pl.RegisterFlags(fs)
	}
}

// Enabled returns the plugins that are active after flag.Parse().
func (p *Pipeline) Enabled() []Plugin {
	var out []Plugin
	for _, pl := range p.plugins {
		if pl.Enabled() {
			out = append(out, pl)
		}
	}
	return out
}

// DialHeader merges the handshake headers of all enabled plugins.
func (p *Pipeline) DialHeader() http.Header {
	merged := http.Header{}
	for _, pl := range p.Enabled() {
		for k, vs := range pl.DialHeader() {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// Middleware collects the middleware of all enabled plugins, in
// registration order.
func (p *Pipeline) Middleware() []gin.HandlerFunc {
	var out []gin.HandlerFunc
	for _, pl := range p.Enabled() {
		out = append(out, pl.Middleware()...)
	}
	return out
}

// Activate attaches every enabled plugin to client. If one fails, the ones
// already attached are detached again.
func (p *Pipeline) Activate(client *networktables.Client, gatherer prometheus.Gatherer, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	middleware := p.Middleware()
	for _, pl := range p.Enabled() {
		host := &Host{
			Client:     client,
			Gatherer:   gatherer,
			Middleware: middleware,
			Logger:     logger.Named(pl.Name()),
		}
		detach, err := pl.Attach(host)
		if err != nil {
			p.Close()
			return fmt.Errorf("plugin %s: %w", pl.Name(), err)
		}
		if detach != nil {
			p.detaches = append(p.detaches, detach)
		}
		logger.Debug("plugin attached", "plugin", pl.Name())
	}
	return nil
}

// Close detaches the attached plugins in reverse order.
func (p *Pipeline) Close() {
	for i := len(p.detaches) - 1; i >= 0; i-- {
		p.detaches[i]()
	}
	p.detaches = nil
}
