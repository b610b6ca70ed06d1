// Package listener implements the bind acceptor and listener demuxer
// named in spec.md section 2: owning listening endpoints, classifying
// each accepted connection (raw TCP, TLS with SNI, HTTP, HTTP/2), and
// routing it to the matching route's policy pipeline. TLS/SNI peeking
// is grounded on the teacher's xDS listener-filter-chain model
// (internal/kgateway's per-protocol filter chain selection), adapted
// here to a plain net.Listener since xDS itself is out of scope for
// this module.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("listener")

// Handler processes one fully-classified HTTP request against bind's
// route set; it is the seam the policy pipeline attaches to (kept as an
// interface here so listener has no import-cycle dependency on
// internal/policy).
type Handler interface {
	ServeBind(bind *config.Bind, w http.ResponseWriter, r *http.Request)
}

// Acceptor owns one listening socket for one config.Bind and demuxes
// accepted connections to handler (spec.md section 2 "Bind acceptor...
// Listener demuxer").
type Acceptor struct {
	bind        *config.Bind
	handler     Handler
	tlsConfig   *tls.Config // non-nil for ProtocolTLS binds
	srv         *http.Server
}

// NewAcceptor builds an Acceptor for bind. tlsConfig is required when
// bind.Protocol is config.ProtocolTLS and ignored otherwise.
func NewAcceptor(bind *config.Bind, handler Handler, tlsConfig *tls.Config) *Acceptor {
	a := &Acceptor{bind: bind, handler: handler, tlsConfig: tlsConfig}
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeBind(bind, w, r)
	})
	if bind.Protocol == config.ProtocolHTTP2 {
		// Accepting a raw HTTP/2 preface over plaintext (h2c) needs an
		// explicit handler; http.Server only negotiates HTTP/2 for TLS
		// connections on its own.
		a.srv = &http.Server{Handler: h2c.NewHandler(mux, &http2.Server{})}
	} else {
		a.srv = &http.Server{Handler: mux}
	}
	return a
}

// ListenAndServe binds bind.Address and serves until ctx is canceled.
// Protocol classification (spec.md section 2 "classifies a connection
// (raw TCP, TLS with SNI, HTTP, HTTP/2)") happens at the net.Listener
// level: TLS binds wrap the raw listener in tls.NewListener so SNI is
// negotiated by the standard library's handshake before any byte
// reaches the HTTP server; a raw-TCP bind is demuxed by the
// application-layer protocol running on it being opaque-tcp, outside
// this HTTP-shaped Acceptor (see RawAcceptor).
func (a *Acceptor) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.bind.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.bind.Address, err)
	}
	if a.bind.Protocol == config.ProtocolTLS {
		if a.tlsConfig == nil {
			ln.Close()
			return fmt.Errorf("bind %s declares protocol tls with no tls config", a.bind.Name)
		}
		ln = tls.NewListener(ln, a.tlsConfig)
	}

	logger.Info("listening", "bind", a.bind.Name, "address", a.bind.Address, "protocol", a.bind.Protocol)

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = a.srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// RawAcceptor handles config.ProtocolTCP binds: opaque byte streams
// proxied to a backend without HTTP framing, used for the opaque-tcp
// backend kind (spec.md section 3 "Backend... opaque-tcp"). It hands
// each accepted net.Conn to relay, which is responsible for copying
// bytes to/from the selected upstream.
type RawAcceptor struct {
	bind  *config.Bind
	relay func(ctx context.Context, conn net.Conn, bind *config.Bind)
}

// NewRawAcceptor builds a RawAcceptor for a raw-TCP bind.
func NewRawAcceptor(bind *config.Bind, relay func(ctx context.Context, conn net.Conn, bind *config.Bind)) *RawAcceptor {
	return &RawAcceptor{bind: bind, relay: relay}
}

func (a *RawAcceptor) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.bind.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.bind.Address, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("listening", "bind", a.bind.Name, "address", a.bind.Address, "protocol", a.bind.Protocol)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept on %s: %w", a.bind.Address, err)
		}
		go a.relay(ctx, conn, a.bind)
	}
}

// Group runs a set of Acceptors/RawAcceptors concurrently and returns
// once every one of them has stopped (e.g. because ctx was canceled).
type Server interface {
	ListenAndServe(ctx context.Context) error
}

type Group struct {
	servers []Server
}

func NewGroup(servers ...Server) *Group { return &Group{servers: servers} }

// Run starts every server in the group and blocks until all return. The
// first non-context-cancellation error is returned; ctx cancellation
// itself is not treated as an error.
func (g *Group) Run(ctx context.Context) error {
	errCh := make(chan error, len(g.servers))
	for _, s := range g.servers {
		s := s
		go func() { errCh <- s.ListenAndServe(ctx) }()
	}
	var firstErr error
	for range g.servers {
		if err := <-errCh; err != nil && err != context.Canceled && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
