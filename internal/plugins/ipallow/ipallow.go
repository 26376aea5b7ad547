package ipallow

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ntws/ntws/internal/hooks"
)

type plugin struct {
	hooks.Base
	allowIPs *string
}

func New() hooks.Plugin {
	return &plugin{}
}

func (p *plugin) Name() string { return "ipallow" }

func (p *plugin) RegisterFlags(fs *flag.FlagSet) {
	p.allowIPs = fs.String("allow-ip", "", "Comma-separated list of IPs or CIDRs allowed to use the inspection API (e.g. 127.0.0.1,10.0.0.0/8)")
}

func (p *plugin) Enabled() bool { return p.allowIPs != nil && *p.allowIPs != "" }

// Middleware rejects requests from addresses outside the list. An invalid
// list rejects everything; Attach reports why.
func (p *plugin) Middleware() []gin.HandlerFunc {
	nets, _ := parse(*p.allowIPs)
	return []gin.HandlerFunc{Allow(nets)}
}

func (p *plugin) Attach(h *hooks.Host) (func(), error) {
	nets, err := parse(*p.allowIPs)
	if err != nil {
		return nil, err
	}
	h.Logger.Info("inspection API restricted", "networks", len(nets))
	return nil, nil
}

// Allow returns gin middleware that answers 403 to clients outside nets.
// Only the peer address counts; forwarding headers are ignored.
func Allow(nets []*net.IPNet) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := net.ParseIP(c.RemoteIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// parse reads a comma-separated list of addresses and CIDRs. A bare
// address becomes a single-host network.
func parse(list string) ([]*net.IPNet, error) {
	parts := strings.Split(list, ",")
	nets := make([]*net.IPNet, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			_, n, err := net.ParseCIDR(s)
			if err != nil {
				return nil, fmt.Errorf("%w: -allow-ip %q: %v", hooks.ErrBadFlag, s, err)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("%w: -allow-ip %q is not an address", hooks.ErrBadFlag, s)
		}
		bits := 8 * net.IPv4len
		if ip.To4() == nil {
			bits = 8 * net.IPv6len
		} else {
			ip = ip.To4()
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}
