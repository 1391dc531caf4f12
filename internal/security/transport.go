// Package security guards outbound HTTP from the notification providers.
//
// Provider base URLs (SENDGRID_BASE_URL, TWILIO_BASE_URL) are configurable so
// that staging can point at a sandbox. EgressTransport keeps a mistyped or
// hostile value from turning the dispatcher into a probe of internal
// infrastructure: every resolved address is checked against a blocklist of
// private, loopback and link-local ranges before a connection is opened.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const dnsTimeout = 500 * time.Millisecond

var (
	// ErrEgressBlocked is returned when a request targets a blocked range.
	ErrEgressBlocked = errors.New("egress: destination in blocked IP range")
	// ErrEgressDNS is returned when the destination cannot be resolved in time.
	ErrEgressDNS = errors.New("egress: DNS resolution failed")
	// ErrTooManyRedirects is returned when the redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("egress: too many redirects")
)

// BlockedCIDRs lists the ranges providers must never resolve to.
var BlockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // instance metadata
	"0.0.0.0/8",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"100.64.0.0/10",
	"198.18.0.0/15",
	"fc00::/7",
	"fe80::/10",
	"::1/128",
}

var blockedNets = mustParseCIDRs(BlockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("security: bad CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// IsBlockedIP reports whether ip falls inside any blocked range.
func IsBlockedIP(ip net.IP) bool {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// EgressTransport is an http.RoundTripper whose dialer refuses blocked
// destinations.
type EgressTransport struct {
	Base     *http.Transport
	Resolver Resolver
}

// NewEgressTransport wraps base, or a clone of http.DefaultTransport when base
// is nil. The base transport's DialContext is replaced.
func NewEgressTransport(base *http.Transport) *EgressTransport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	t := &EgressTransport{Base: base, Resolver: net.DefaultResolver}
	base.DialContext = t.dialContext
	// A proxy would dial on our behalf and bypass the check.
	base.Proxy = nil
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *EgressTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Base.RoundTrip(req)
}

func (t *EgressTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid address %q: %w", addr, err)
	}
	ip, err := resolveAllowed(ctx, t.Resolver, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// resolveAllowed returns the address to dial for host. Every resolved
// address must be allowed, so a record mixing public and private addresses
// is refused.
func resolveAllowed(ctx context.Context, r Resolver, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrEgressBlocked, ip)
		}
		return ip, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := r.LookupIPAddr(dnsCtx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: host %q: %v", ErrEgressDNS, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q has no addresses", ErrEgressDNS, host)
	}
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrEgressBlocked, a.IP, host)
		}
	}
	return addrs[0].IP, nil
}

// CheckRedirect returns an http.Client CheckRedirect that applies the same
// blocklist to redirect targets and caps the chain at maxRedirects.
func CheckRedirect(maxRedirects int, r Resolver) func(req *http.Request, via []*http.Request) error {
	if r == nil {
		r = net.DefaultResolver
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect has no host", ErrEgressBlocked)
		}
		_, err := resolveAllowed(req.Context(), r, host)
		return err
	}
}

// NewEgressClient returns an http.Client for provider APIs with the egress
// guard on both dials and redirects.
func NewEgressClient(timeout time.Duration, maxRedirects int) *http.Client {
	t := NewEgressTransport(nil)
	return &http.Client{
		Transport:     t,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, t.Resolver),
	}
}
