// Package netguard provides SSRF protection by refusing outbound connections
// to private/internal IP ranges. The reachability checker dials through it so
// a submitted URL cannot be used to probe the host's own network.
package netguard

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// BlockedCIDRs are private/internal networks that probed URLs must never resolve to.
var BlockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local / cloud metadata
		"100.64.0.0/10",  // carrier-grade NAT
		"0.0.0.0/8",      // unspecified
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsBlocked returns true if the IP falls within a private/internal range.
func IsBlocked(ip net.IP) bool {
	for _, cidr := range BlockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Guard dials outbound connections after checking every resolved address.
type Guard struct {
	// AllowPrivate disables the CIDR check (local development, tests).
	AllowPrivate bool
	// Trusted hosts are dialed without resolution checks.
	Trusted  []string
	Dialer   *net.Dialer
	Resolver *net.Resolver
}

// New returns a Guard with a 10s dial timeout.
func New(allowPrivate bool, trusted ...string) *Guard {
	return &Guard{
		AllowPrivate: allowPrivate,
		Trusted:      trusted,
		Dialer:       &net.Dialer{Timeout: 10 * time.Second},
		Resolver:     net.DefaultResolver,
	}
}

// IsTrustedHost reports whether addr (host or host:port) is in g.Trusted.
func (g *Guard) IsTrustedHost(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	for _, t := range g.Trusted {
		if strings.EqualFold(t, host) {
			return true
		}
	}
	return false
}

// DialContext is an http.Transport DialContext that resolves the host,
// rejects blocked addresses and connects to the first resolved IP.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if g.AllowPrivate || g.IsTrustedHost(addr) {
		return g.Dialer.DialContext(ctx, network, addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsBlocked(ip) {
			return nil, &BlockedError{Addr: addr, IP: ip}
		}
		return g.Dialer.DialContext(ctx, network, addr)
	}

	ips, err := g.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("dns lookup for %s returned no addresses", host)
	}
	for _, ipAddr := range ips {
		if IsBlocked(ipAddr.IP) {
			return nil, &BlockedError{Addr: addr, IP: ipAddr.IP}
		}
	}

	// Dial the checked address so a second lookup cannot rebind.
	return g.Dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

// BlockedError is returned when a target resolves to a blocked range.
type BlockedError struct {
	Addr string
	IP   net.IP
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s resolves to blocked private IP %s", e.Addr, e.IP)
}
