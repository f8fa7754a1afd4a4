package http

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const maxUserAgentLen = 512

// IPConfig lists the proxies whose forwarding headers are trusted.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
	nets           []*net.IPNet
}

// NewIPConfig parses the CIDR list once. Invalid entries are skipped.
func NewIPConfig(cidrs []string) *IPConfig {
	cfg := &IPConfig{TrustedProxies: cidrs}
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			cfg.nets = append(cfg.nets, n)
		}
	}
	return cfg
}

func (c *IPConfig) trusts(ip net.IP) bool {
	if c == nil || ip == nil {
		return false
	}
	nets := c.nets
	if nets == nil && len(c.TrustedProxies) > 0 {
		nets = NewIPConfig(c.TrustedProxies).nets
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the caller's address. X-Forwarded-For and X-Real-IP
// are honoured only when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteHost(r)

	if !config.trusts(net.ParseIP(remote)) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			hop = strings.TrimSpace(hop)
			if net.ParseIP(hop) != nil {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remote
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserAgent returns the request's User-Agent truncated to a storable length.
func UserAgent(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return ua
}

// ClientInfo identifies the caller of a request.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type clientInfoKey struct{}

func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the info stored by WithClientInfo, or a zero value.
func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

// Client resolves ClientInfo from the context, falling back to the request.
func Client(r *http.Request, config *IPConfig) ClientInfo {
	if info := ClientInfoFrom(r.Context()); info.IP != "" {
		return info
	}
	return ClientInfo{IP: ExtractClientIP(r, config), UserAgent: UserAgent(r)}
}
