// Package printer writes connection changes and value updates to the
// console as they happen.
package printer

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ntws/ntws/internal/hooks"
	"github.com/ntws/ntws/internal/types"
)

type Plugin struct {
	hooks.Base
	quiet bool
	keys  string

	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// New returns a printer writing to out, or to the color-aware stdout when
// out is nil.
func New(out io.Writer) *Plugin {
	if out == nil {
		out = color.Output
	}
	return &Plugin{out: out, now: time.Now}
}

func (p *Plugin) Name() string { return "printer" }

func (p *Plugin) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&p.quiet, "quiet", false, "Do not print updates to the console")
	fs.StringVar(&p.keys, "keys", "", "Comma-separated keys to print (default: every key)")
}

func (p *Plugin) Enabled() bool { return !p.quiet }

// Keys returns the keys to print, or nil for all of them.
func (p *Plugin) Keys() []string {
	var keys []string
	for _, k := range strings.Split(p.keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (p *Plugin) Attach(h *hooks.Host) (func(), error) {
	disposers := []func(){
		h.Client.AddTransportConnectionListener(p.transport, false),
		h.Client.AddApplicationConnectionListener(p.robot, false),
	}
	keys := p.Keys()
	if len(keys) == 0 {
		disposers = append(disposers, h.Client.AddGlobalListener(p.value, true))
	}
	for _, k := range keys {
		disposers = append(disposers, h.Client.AddKeyListener(k, p.value, true))
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}, nil
}

var (
	faint = color.New(color.Faint)
	green = color.New(color.FgGreen, color.Bold)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
	bold  = color.New(color.Bold)
)

func (p *Plugin) stamp() string {
	return faint.Sprint(p.now().Format("15:04:05.000"))
}

func status(up bool, yes, no string) string {
	if up {
		return green.Sprint(yes)
	}
	return red.Sprint(no)
}

func (p *Plugin) transport(open bool) {
	p.println(p.stamp(), "server", status(open, "connected", "disconnected"))
}

func (p *Plugin) robot(connected bool) {
	p.println(p.stamp(), "robot ", status(connected, "connected", "disconnected"))
}

func (p *Plugin) value(key string, v types.Value, isNew bool) {
	marker := " "
	if isNew {
		marker = cyan.Sprint("+")
	}
	p.println(p.stamp(), marker, bold.Sprint(key), "=", v.String(), faint.Sprintf("(%s)", v.Kind()))
}

func (p *Plugin) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, a...)
}
