// Package appctx wires the gateway's long-lived collaborators into one
// struct, the "AppContext{metrics, tracer, trust_roots, dns, pool}"
// named in spec.md section 9 Design Notes. It holds no per-request
// state; a Context is built once at startup and shared read-only across
// every goroutine the listener spawns.
package appctx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/dispatcher"
	"github.com/kgateway-dev/agentgatewayd/internal/hbone"
	"github.com/kgateway-dev/agentgatewayd/internal/policy"
)

// CertificateFetcher supplies the HBONE pool's client identity; left as
// a field rather than constructed here, since certificate provisioning
// (SPIFFE/file-based/etc) is an external collaborator out of scope for
// this module (spec.md section 1).
type CertificateFetcher = hbone.CertificateFetcher

// Context bundles every long-lived collaborator the request pipeline
// needs, matching spec.md section 9's "AppContext{metrics, tracer,
// trust_roots, dns, pool}".
type Context struct {
	Store      *config.Store
	Metrics    policy.Metrics
	TrustRoots *x509.CertPool
	DNS        *dispatcher.DNSCache
	Pool       *hbone.Pool
	Dispatcher *dispatcher.Dispatcher
}

// Options parameterizes New.
type Options struct {
	Discovery     dispatcher.DiscoverySnapshot
	CertFetcher   CertificateFetcher
	TrustRoots    *x509.CertPool
	Metrics       policy.Metrics
	DNSTTL        time.Duration
	DialTimeout   time.Duration
	HBONEConfig   hbone.Config
}

// New builds a Context: a DNS cache and a dispatcher over a direct
// plaintext/TLS transport. When opts.CertFetcher is set it also builds
// an HBONE pool, and the dispatcher prefers HBONE for endpoints that
// advertise it, falling back to the direct transport otherwise (spec.md
// section 4.3 "Transport selection"); without a CertFetcher, Pool is nil.
func New(opts Options) *Context {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = policy.NopMetrics{}
	}
	dns := dispatcher.NewDNSCache(dispatcher.NewSystemResolver(), orDefault(opts.DNSTTL, 5*time.Minute))

	var pool *hbone.Pool
	var transport dispatcher.Transport = dispatcher.NewDirectTransport(orDefault(opts.DialTimeout, 10*time.Second))
	if opts.CertFetcher != nil {
		pool = hbone.NewPool(opts.HBONEConfig, opts.CertFetcher)
		transport = &dispatcher.SelectingTransport{
			Direct: dispatcher.NewDirectTransport(orDefault(opts.DialTimeout, 10*time.Second)),
			HBONE:  dispatcher.NewHBONETransport(pool),
		}
	}

	d := dispatcher.New(opts.Discovery, dns, transport)

	return &Context{
		Store:      config.NewStore(),
		Metrics:    metrics,
		TrustRoots: opts.TrustRoots,
		DNS:        dns,
		Pool:       pool,
		Dispatcher: d,
	}
}

// Close releases the HBONE pool's background sweep goroutine and
// connections. Intended for process shutdown / tests.
func (c *Context) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// staticTrustRootsFetcher is a minimal CertificateFetcher that always
// returns the same client certificate and root pool, for deployments
// with a single static mTLS identity rather than per-destination
// SPIFFE rotation. Most production setups supply their own
// CertificateFetcher (e.g. backed by a SPIFFE Workload API client).
type staticTrustRootsFetcher struct {
	cert  tls.Certificate
	roots *x509.CertPool
}

// NewStaticCertificateFetcher builds a CertificateFetcher that ignores
// the requested key and always presents cert, verifying peers against
// roots.
func NewStaticCertificateFetcher(cert tls.Certificate, roots *x509.CertPool) CertificateFetcher {
	return staticTrustRootsFetcher{cert: cert, roots: roots}
}

func (f staticTrustRootsFetcher) FetchCertificate(_ context.Context, _ hbone.Key) (*tls.Config, error) {
	return &tls.Config{
		Certificates: []tls.Certificate{f.cert},
		RootCAs:      f.roots,
	}, nil
}
