package hbone

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"time"
)

// CertificateFetcher supplies the client TLS config for a pool key — an
// external identity provider (spec.md section 4.4 "fetch_certificate").
// The returned config's verifier must accept exactly key's acceptable
// identity set.
type CertificateFetcher interface {
	FetchCertificate(ctx context.Context, key Key) (*tls.Config, error)
}

// Config parameterizes a Pool.
type Config struct {
	MaxStreamsPerConn   int32
	UnusedReleaseTimeout time.Duration
	Window              WindowConfig
}

// DefaultConfig mirrors the POOL_* environment variables named in
// spec.md section 6.
func DefaultConfig() Config {
	return Config{
		MaxStreamsPerConn:    100,
		UnusedReleaseTimeout: 5 * time.Minute,
		Window:               DefaultWindowConfig(),
	}
}

// entry is the ring of connections open for one key. Mutating the ring
// (insert/remove) takes entry.mu; reading/writing through an individual
// *Conn never does (spec.md section 4.4 "Concurrency").
type entry struct {
	mu    sync.Mutex
	conns []*Conn
}

// Pool multiplexes HTTP/2 CONNECT streams over a set of keyed,
// mTLS-authenticated connections (spec.md section 4.4). It is shared
// across all requests; per-key critical sections are short and never
// held across I/O.
type Pool struct {
	cfg    Config
	certs  CertificateFetcher
	mu     sync.RWMutex
	byKey  map[Key]*entry
	stopCh chan struct{}
}

// NewPool constructs a Pool. certs supplies per-key client TLS configs.
// A background goroutine sweeps for idle connections every
// cfg.UnusedReleaseTimeout/4 (at most once a second) and closes any
// connection idle past cfg.UnusedReleaseTimeout, per the "idle
// reclamation" testable property in spec.md section 8.
func NewPool(cfg Config, certs CertificateFetcher) *Pool {
	p := &Pool{cfg: cfg, certs: certs, byKey: map[Key]*entry{}, stopCh: make(chan struct{})}
	go p.sweepLoop()
	return p
}

// Close stops the idle-reclamation sweep and closes every pooled
// connection. Intended for process shutdown / tests.
func (p *Pool) Close() {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.byKey {
		e.mu.Lock()
		for _, c := range e.conns {
			c.closeNow()
		}
		e.conns = nil
		e.mu.Unlock()
	}
}

func (p *Pool) entryFor(key Key) *entry {
	p.mu.RLock()
	e, ok := p.byKey[key]
	p.mu.RUnlock()
	if ok {
		return e
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok = p.byKey[key]; ok {
		return e
	}
	e = &entry{}
	p.byKey[key] = e
	return e
}

// SendRequestPooled obtains (or opens) a connection for key and
// initiates a CONNECT stream on it, returning the upgraded bidirectional
// byte stream (spec.md section 4.4 "send_request_pooled").
//
// Per spec.md section 9's Open Question (b), a stream-count race that
// loses the CAS on every existing connection opens one more connection
// rather than serializing acquisition — correctness over optimality.
func (p *Pool) SendRequestPooled(ctx context.Context, key Key) (io.ReadWriteCloser, error) {
	e := p.entryFor(key)

	if c := p.tryReuse(e); c != nil {
		s, err := c.openConnectStream(ctx, key.Address)
		if err != nil {
			c.release()
			p.invalidate(e, c)
			return nil, err
		}
		return &trackedStream{ReadWriteCloser: s, conn: c}, nil
	}

	c, err := p.open(ctx, key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()

	if !c.tryReserve(p.cfg.MaxStreamsPerConn) {
		// Lost a race to a concurrent opener landing first; this is the
		// "open an extra connection" bias, not a correctness bug.
		c.closeNow()
		return nil, fmt.Errorf("hbone: newly opened connection for %s already full", key)
	}
	s, err := c.openConnectStream(ctx, key.Address)
	if err != nil {
		c.release()
		p.invalidate(e, c)
		return nil, err
	}
	return &trackedStream{ReadWriteCloser: s, conn: c}, nil
}

// tryReuse scans key's existing connections for one under the
// per-connection stream cap and reserves a slot on it.
func (p *Pool) tryReuse(e *entry) *Conn {
	e.mu.Lock()
	conns := append([]*Conn(nil), e.conns...)
	e.mu.Unlock()

	for _, c := range conns {
		if c.tryReserve(p.cfg.MaxStreamsPerConn) {
			return c
		}
	}
	return nil
}

func (p *Pool) open(ctx context.Context, key Key) (*Conn, error) {
	tlsConf, err := p.certs.FetchCertificate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch certificate for %s: %w", key, err)
	}
	return dial(ctx, key, tlsConf, p.cfg.Window)
}

// invalidate removes c from its entry's ring; an HTTP/2 error on c
// invalidates only that connection (spec.md section 4.4 "Failure").
func (p *Pool) invalidate(e *entry, c *Conn) {
	c.closeNow()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cand := range e.conns {
		if cand == c {
			e.conns = append(e.conns[:i], e.conns[i+1:]...)
			return
		}
	}
}

// trackedStream releases the reserved stream slot when the caller
// closes the stream.
type trackedStream struct {
	io.ReadWriteCloser
	conn     *Conn
	released bool
	mu       sync.Mutex
}

func (t *trackedStream) Close() error {
	err := t.ReadWriteCloser.Close()
	t.mu.Lock()
	if !t.released {
		t.released = true
		t.conn.release()
	}
	t.mu.Unlock()
	return err
}

func (p *Pool) sweepLoop() {
	interval := p.cfg.UnusedReleaseTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.sweepOnce(time.Now())
		}
	}
}

func (p *Pool) sweepOnce(now time.Time) {
	p.mu.RLock()
	entries := make([]*entry, 0, len(p.byKey))
	for _, e := range p.byKey {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		kept := e.conns[:0]
		for _, c := range e.conns {
			if idleSince, idle := c.idleSince(); idle && now.Sub(idleSince) >= p.cfg.UnusedReleaseTimeout {
				logger.Debug("closing idle hbone connection", "key", c.key.String())
				c.drain()
				c.closeNow()
				continue
			}
			kept = append(kept, c)
		}
		e.conns = kept
		e.mu.Unlock()
	}
}

// Stats reports the number of pooled connections and their outstanding
// streams for key, used by tests verifying the pool-capacity invariant.
func (p *Pool) Stats(key Key) (conns int, totalStreams int32) {
	p.mu.RLock()
	e, ok := p.byKey[key]
	p.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		totalStreams += c.StreamsOutstanding()
	}
	return len(e.conns), totalStreams
}
