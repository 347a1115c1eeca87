// Package security guards the daemon's outbound webhook traffic.
//
// A Guard refuses to connect to loopback, private, link-local (which covers
// the cloud metadata endpoint at 169.254.169.254) and other non-public
// ranges. Every resolved address of a host is checked before any is dialed,
// so a DNS answer mixing public and private addresses is rejected as a whole.
// Redirect hops are checked the same way.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"
)

const defaultDNSTimeout = 500 * time.Millisecond

var (
	// ErrBlocked is returned when a target resolves into a blocked range.
	ErrBlocked = errors.New("egress: destination address is blocked")
	// ErrDNSTimeout is returned when resolution exceeds the Guard's timeout.
	ErrDNSTimeout = errors.New("egress: DNS resolution timeout")
	// ErrDNSFailed is returned when resolution fails or yields nothing.
	ErrDNSFailed = errors.New("egress: DNS resolution failed")
	// ErrTooManyRedirects is returned past the redirect limit.
	ErrTooManyRedirects = errors.New("egress: too many redirects")
)

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // current network
	netip.MustParsePrefix("10.0.0.0/8"),     // private
	netip.MustParsePrefix("100.64.0.0/10"),  // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback
	netip.MustParsePrefix("169.254.0.0/16"), // link-local, instance metadata
	netip.MustParsePrefix("172.16.0.0/12"),  // private
	netip.MustParsePrefix("192.168.0.0/16"), // private
	netip.MustParsePrefix("198.18.0.0/15"),  // benchmarking
	netip.MustParsePrefix("224.0.0.0/4"),    // multicast
	netip.MustParsePrefix("240.0.0.0/4"),    // reserved
	netip.MustParsePrefix("::/128"),         // unspecified
	netip.MustParsePrefix("::1/128"),        // loopback
	netip.MustParsePrefix("fc00::/7"),       // unique local
	netip.MustParsePrefix("fe80::/10"),      // link-local
}

// Blocked reports whether addr falls in a blocked range. IPv4-mapped IPv6
// addresses are checked as IPv4.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard validates destinations before they are dialed.
type Guard struct {
	Resolver   Resolver
	DNSTimeout time.Duration

	dialer net.Dialer
}

// NewGuard returns a Guard using the system resolver.
func NewGuard() *Guard {
	return &Guard{Resolver: net.DefaultResolver, DNSTimeout: defaultDNSTimeout}
}

// resolve returns the addresses of host, failing if any one is blocked.
func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if Blocked(addr) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, addr)
		}
		return []netip.Addr{addr}, nil
	}

	timeout := g.DNSTimeout
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}
	dnsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := g.Resolver.LookupNetIP(dnsCtx, "ip", host)
	if err != nil {
		if dnsCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}
	for _, addr := range addrs {
		if Blocked(addr) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlocked, addr.Unmap(), host)
		}
	}
	return addrs, nil
}

// DialContext resolves and validates addr, then dials the first address.
// The connection goes to the validated address, never to a second lookup.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid address %q: %w", addr, err)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return g.dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].Unmap().String(), port))
}

// CheckRedirect returns an http.Client CheckRedirect that validates every
// hop and stops after maxRedirects.
func (g *Guard) CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlocked)
		}
		_, err := g.resolve(req.Context(), host)
		return err
	}
}

// CheckURL validates the host of rawURL ahead of any request, so a
// misconfigured webhook fails at startup rather than at the first alert.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: cannot extract host from %q", ErrBlocked, rawURL)
	}
	_, err = g.resolve(ctx, u.Hostname())
	return err
}

// Client returns an http.Client whose connections and redirects pass
// through g. Proxies are disabled since a proxy would dial on our behalf.
func (g *Guard) Client(timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext

	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}
