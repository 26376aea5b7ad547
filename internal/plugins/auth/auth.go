package auth

import (
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"strings"

	"github.com/ntws/ntws/internal/hooks"
)

type plugin struct {
	hooks.Base
	auth *string
}

func New() hooks.Plugin {
	return &plugin{}
}

func (p *plugin) Name() string { return "auth" }

func (p *plugin) RegisterFlags(fs *flag.FlagSet) {
	p.auth = fs.String("auth", "", "Basic auth credentials (user:pass) sent with the websocket handshake")
}

func (p *plugin) Enabled() bool { return p.auth != nil && *p.auth != "" }

func (p *plugin) DialHeader() http.Header {
	if !strings.Contains(*p.auth, ":") {
		return nil
	}
	token := base64.StdEncoding.EncodeToString([]byte(*p.auth))
	return http.Header{"Authorization": {"Basic " + token}}
}

func (p *plugin) Attach(h *hooks.Host) (func(), error) {
	if !strings.Contains(*p.auth, ":") {
		return nil, fmt.Errorf("%w: -auth must be user:pass", hooks.ErrBadFlag)
	}
	user, _, _ := strings.Cut(*p.auth, ":")
	h.Logger.Info("sending basic auth", "user", user)
	return nil, nil
}
