// Package realip works out who is on the other end of a request and whether
// that address belongs to a trusted network.
package realip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Networks is a parsed list of CIDRs.
type Networks []netip.Prefix

// ParseNetworks parses CIDRs. A bare address is taken as a single host.
func ParseNetworks(cidrs []string) (Networks, error) {
	nets := make(Networks, 0, len(cidrs))
	for _, s := range cidrs {
		s = strings.TrimSpace(s)
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("trusted network %q: %w", s, err)
			}
			nets = append(nets, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("trusted network %q: %w", s, err)
		}
		nets = append(nets, p.Masked())
	}
	return nets, nil
}

// Contains reports whether ip falls inside any network. IPv4-mapped IPv6
// addresses, as reported by dual-stack listeners, match their IPv4 form.
func (n Networks) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range n {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RemoteIP is the TCP peer address without the port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP is the address rate limiting keys on. With trustForwarded the
// left-most X-Forwarded-For entry, then X-Real-IP, is used; that is only safe
// behind a load balancer that rewrites those headers.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if !trustForwarded {
		return RemoteIP(r)
	}
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
		if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
			return addr.Unmap().String()
		}
	}
	return RemoteIP(r)
}
