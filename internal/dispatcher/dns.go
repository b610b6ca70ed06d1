// Package dispatcher implements the upstream dispatcher (spec.md
// section 4.3): endpoint selection, transport selection, and the DNS
// cache (spec.md section 4.7) hostname backends resolve through.
package dispatcher

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("dispatcher")

// ErrorBackoff is the fixed window a host enters after a failed refresh
// (spec.md section 4.7); no refresh is attempted again until it elapses.
const ErrorBackoff = 15 * time.Second

// Resolver is the underlying lookup the cache refreshes through; the
// default wraps net.Resolver, tests substitute a fake.
type Resolver interface {
	LookupIPs(ctx context.Context, host string) ([]net.IP, error)
}

type netResolver struct{ r *net.Resolver }

func (n netResolver) LookupIPs(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := n.r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// NewSystemResolver wraps the standard library resolver.
func NewSystemResolver() Resolver { return netResolver{r: net.DefaultResolver} }

type dnsEntry struct {
	addresses       []net.IP
	expiry          time.Time
	cursor          int
	errBackoffUntil time.Time
	lastErr         error
}

// DNSCache implements the (addresses[], expiry, cursor) contract of
// spec.md section 4.7: resolve(host) -> one IP, strict round-robin per
// host within a cache generation, with error-backoff on failed refresh.
type DNSCache struct {
	resolver Resolver
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*dnsEntry
}

// NewDNSCache builds a cache that treats every successful resolution as
// valid for ttl before a refresh is attempted.
func NewDNSCache(resolver Resolver, ttl time.Duration) *DNSCache {
	return &DNSCache{resolver: resolver, ttl: ttl, entries: map[string]*dnsEntry{}}
}

// Resolve returns the next address in host's round-robin cycle,
// refreshing synchronously on expiry or first use. A refresh failure
// enters ErrorBackoff; calls during the window return the failure
// without attempting another lookup (spec.md section 4.7, section 8
// property 5).
func (d *DNSCache) Resolve(ctx context.Context, host string) (net.IP, error) {
	d.mu.Lock()
	e, ok := d.entries[host]
	now := time.Now()
	if ok && !e.errBackoffUntil.IsZero() && now.Before(e.errBackoffUntil) {
		err := e.lastErr
		d.mu.Unlock()
		return nil, gwerror.New(gwerror.KindDnsResolution, "dns.Resolve", err)
	}
	if ok && now.Before(e.expiry) {
		ip := e.addresses[e.cursor%len(e.addresses)]
		e.cursor++
		d.mu.Unlock()
		return ip, nil
	}
	d.mu.Unlock()

	addrs, err := d.resolver.LookupIPs(ctx, host)
	if err == nil && len(addrs) == 0 {
		// spec.md section 4.7: "empty result after a successful refresh
		// is treated as an error (no endpoints)".
		err = errNoAddresses{host: host}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		logger.Warn("dns refresh failed, entering error backoff", "host", host, "error", err)
		d.entries[host] = &dnsEntry{
			addresses:       nil,
			errBackoffUntil: time.Now().Add(ErrorBackoff),
			lastErr:         err,
		}
		return nil, gwerror.New(gwerror.KindDnsResolution, "dns.Resolve", err)
	}

	entry := &dnsEntry{addresses: addrs, expiry: time.Now().Add(d.ttl)}
	d.entries[host] = entry
	ip := entry.addresses[0]
	entry.cursor = 1
	return ip, nil
}

type errNoAddresses struct{ host string }

func (e errNoAddresses) Error() string { return "no addresses for host " + e.host }
