// Package ssrf rejects media-server URLs that would make the server call into
// its own network.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedURL is wrapped by every rejection.
var ErrBlockedURL = errors.New("ssrf: url blocked")

// Source says where a URL came from.
type Source int

const (
	// SourceUser is anything a client supplied; it is resolved and every address checked.
	SourceUser Source = iota
	// SourceTrusted is operator configuration or a URL already resolved at login.
	SourceTrusted
)

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Guard validates outbound base URLs.
type Guard struct {
	resolver Resolver
	schemes  map[string]bool
}

// New returns a guard using r for DNS; nil selects net.DefaultResolver.
func New(r Resolver) *Guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{
		resolver: r,
		schemes:  map[string]bool{"http": true, "https": true},
	}
}

// Validate runs the structural check and, for user-sourced URLs, the DNS check.
func (g *Guard) Validate(ctx context.Context, rawURL string, src Source) error {
	if src == SourceTrusted {
		return g.CheckStructure(rawURL)
	}
	return g.CheckResolved(ctx, rawURL)
}

// CheckStructure rejects bad schemes, embedded credentials and blocked address literals.
func (g *Guard) CheckStructure(rawURL string) error {
	_, err := g.parse(rawURL)
	return err
}

// CheckResolved performs CheckStructure and then resolves the host, rejecting the
// URL if any returned address is internal.
func (g *Guard) CheckResolved(ctx context.Context, rawURL string) error {
	u, err := g.parse(rawURL)
	if err != nil {
		return err
	}

	host := u.Hostname()
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %v", ErrBlockedURL, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %q has no addresses", ErrBlockedURL, host)
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return fmt.Errorf("%w: %q resolved to an invalid address", ErrBlockedURL, host)
		}
		if IsBlockedAddr(ip) {
			return fmt.Errorf("%w: %q resolves to internal address %s", ErrBlockedURL, host, ip.Unmap())
		}
	}
	return nil
}

func (g *Guard) parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if !g.schemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrBlockedURL, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("%w: localhost", ErrBlockedURL)
	}
	if ip, err := netip.ParseAddr(host); err == nil && IsBlockedAddr(ip) {
		return nil, fmt.Errorf("%w: internal address %s", ErrBlockedURL, host)
	}
	return u, nil
}

// IsBlockedAddr reports loopback, private, link-local, multicast, unspecified and
// carrier-grade NAT addresses, including their IPv4-mapped IPv6 forms.
func IsBlockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// DialControl refuses connections to blocked addresses. Installed as
// net.Dialer.Control it sees the address actually dialed, so a host that
// resolves differently after CheckResolved is still caught.
func DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: dial to non-ip host %q", ErrBlockedURL, host)
	}
	if IsBlockedAddr(ip) {
		return fmt.Errorf("%w: dial to internal address %s", ErrBlockedURL, ip.Unmap())
	}
	return nil
}

// Transport returns an HTTP transport whose connections pass DialControl.
// Proxies are disabled, otherwise the check would see the proxy address.
func Transport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   DialControl,
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}
