// Package policy decides which upstream targets the proxy may contact.
package policy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"image-proxy-go/internal/config"
)

// ErrForbidden is wrapped by every policy violation.
var ErrForbidden = errors.New("target not allowed")

// Policy holds the configured scheme and host allow-lists. Hostnames are
// matched as written; resolved addresses are checked at dial time by Control.
type Policy struct {
	schemes      map[string]bool
	exactHosts   map[string]bool
	suffixHosts  []string // ".example.com" for "*.example.com"
	blockPrivate bool
}

// New builds a Policy from config. An empty host list allows any host.
func New(cfg config.TargetConfig) *Policy {
	p := &Policy{
		schemes:      make(map[string]bool),
		exactHosts:   make(map[string]bool),
		blockPrivate: cfg.BlockPrivateNetworks,
	}

	schemes := cfg.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	for _, s := range schemes {
		p.schemes[strings.ToLower(s)] = true
	}

	for _, h := range cfg.AllowedHosts {
		h = strings.ToLower(h)
		if rest, ok := strings.CutPrefix(h, "*."); ok {
			p.suffixHosts = append(p.suffixHosts, "."+rest)
			continue
		}
		p.exactHosts[h] = true
	}

	return p
}

// Mode reports "allow_list" when hosts are restricted and "open" otherwise.
func (p *Policy) Mode() string {
	if len(p.exactHosts) == 0 && len(p.suffixHosts) == 0 {
		return "open"
	}
	return "allow_list"
}

// Check returns nil if u may be fetched, or an error wrapping ErrForbidden.
func (p *Policy) Check(u *url.URL) error {
	if !p.schemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("%w: scheme %q", ErrForbidden, u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if !p.hostAllowed(host) {
		return fmt.Errorf("%w: host %q", ErrForbidden, host)
	}

	if p.blockPrivate {
		if addr, err := netip.ParseAddr(host); err == nil && isInternal(addr) {
			return fmt.Errorf("%w: address %s is internal", ErrForbidden, addr)
		}
		if host == "localhost" || strings.HasSuffix(host, ".localhost") {
			return fmt.Errorf("%w: host %q is internal", ErrForbidden, host)
		}
	}

	return nil
}

// Control is a net.Dialer hook that refuses connections to internal
// addresses when block_private_networks is set. It catches names that
// resolve to internal addresses, which Check cannot see.
func (p *Policy) Control(_, address string, _ syscall.RawConn) error {
	if !p.blockPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrForbidden, address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrForbidden, address, err)
	}
	if isInternal(addr) {
		return fmt.Errorf("%w: dial %s: address is internal", ErrForbidden, address)
	}
	return nil
}

func (p *Policy) hostAllowed(host string) bool {
	if len(p.exactHosts) == 0 && len(p.suffixHosts) == 0 {
		return true
	}
	if p.exactHosts[host] {
		return true
	}
	for _, suffix := range p.suffixHosts {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func isInternal(addr netip.Addr) bool {
	ip := net.IP(addr.Unmap().AsSlice())
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
