package dispatcher

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/hbone"
)

// DirectTransport round-trips over a plain TCP or TLS connection dialed
// per attempt, selecting TLS by endpoint.TLSServerName being set
// (spec.md section 4.3 "Transport selection": plaintext TCP or TLS").
// Dialer/TLS construction is grounded on
// pkg/utils/requestutils/curl/native_request.go's buildDialer and
// buildHTTPClient TLS setup, generalized from that file's one-shot CLI
// request to a per-attempt dial against a Dispatcher-selected endpoint.
type DirectTransport struct {
	dialTimeout time.Duration
}

// NewDirectTransport builds a DirectTransport that dials fresh per
// attempt. Each endpoint may carry a different TLSServerName, so
// connections are not pooled across endpoints the way Go's
// http.Transport pools by host — the Dispatcher's own round-robin
// already spreads load, and attempts are typically short-lived relative
// to a dial.
func NewDirectTransport(dialTimeout time.Duration) *DirectTransport {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &DirectTransport{dialTimeout: dialTimeout}
}

// RoundTrip performs one attempt against ep. req.URL.Host is rewritten
// to ep.Address so Go's transport dials the resolved endpoint rather
// than re-resolving the logical hostname; TLSServerName drives SNI and
// certificate verification when set.
func (t *DirectTransport) RoundTrip(ctx context.Context, ep config.Endpoint, req *http.Request) (*http.Response, error) {
	req = req.Clone(ctx)
	req.URL.Host = ep.Address
	if ep.TLSServerName != "" {
		req.URL.Scheme = "https"
		return t.roundTripTLS(ctx, ep, req)
	}
	req.URL.Scheme = "http"
	conn, err := (&net.Dialer{Timeout: t.dialTimeout}).DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address, err)
	}
	return sendOnConn(conn, req)
}

func (t *DirectTransport) roundTripTLS(ctx context.Context, ep config.Endpoint, req *http.Request) (*http.Response, error) {
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address, err)
	}
	tlsConn := tls.Client(rawConn, &tls.Config{ServerName: ep.TLSServerName})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", ep.TLSServerName, err)
	}
	return sendOnConn(tlsConn, req)
}

// sendOnConn writes req and parses the response over a raw connection,
// used by both the plaintext and TLS paths since both expose a net.Conn.
func sendOnConn(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp.Body = wrapCloser{resp.Body, conn}
	return resp, nil
}

// wrapCloser closes the underlying connection once the caller finishes
// draining the response body, since http.ReadResponse never owns conn
// itself.
type wrapCloser struct {
	body interface{ Read([]byte) (int, error) }
	conn net.Conn
}

func (w wrapCloser) Read(p []byte) (int, error) { return w.body.Read(p) }
func (w wrapCloser) Close() error {
	if c, ok := w.body.(interface{ Close() error }); ok {
		c.Close()
	}
	return w.conn.Close()
}

// HBONETransport round-trips by opening (or reusing) an HTTP/2 CONNECT
// stream through an hbone.Pool and speaking plain HTTP/1.1 over that
// tunnel (spec.md section 4.4 "HBONE tunnel pool"; section 4.3
// "Transport selection" routes HBONE-capable endpoints here instead of
// DirectTransport).
type HBONETransport struct {
	pool *hbone.Pool
}

func NewHBONETransport(pool *hbone.Pool) *HBONETransport {
	return &HBONETransport{pool: pool}
}

func (t *HBONETransport) RoundTrip(ctx context.Context, ep config.Endpoint, req *http.Request) (*http.Response, error) {
	ids := make([]string, len(ep.HBONEIdentities))
	for i, id := range ep.HBONEIdentities {
		ids[i] = string(id)
	}
	key := hbone.NewKey(ep.Address, ids)
	stream, err := t.pool.SendRequestPooled(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open hbone stream to %s: %w", ep.Address, err)
	}
	req = req.Clone(ctx)
	req.URL.Host = ep.Address
	req.URL.Scheme = "http"
	if err := req.Write(stream); err != nil {
		stream.Close()
		return nil, fmt.Errorf("write request over hbone stream: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(stream), req)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("read response over hbone stream: %w", err)
	}
	resp.Body = hboneBody{resp.Body, stream}
	return resp, nil
}

type hboneBody struct {
	body   interface{ Read([]byte) (int, error) }
	stream interface{ Close() error }
}

func (b hboneBody) Read(p []byte) (int, error) { return b.body.Read(p) }
func (b hboneBody) Close() error {
	if c, ok := b.body.(interface{ Close() error }); ok {
		c.Close()
	}
	return b.stream.Close()
}

// SelectingTransport dispatches each attempt to HBONE when the selected
// endpoint advertises it, otherwise to Direct (spec.md section 4.3
// "Transport selection... decided per endpoint, not per route").
type SelectingTransport struct {
	Direct Transport
	HBONE  Transport
}

func (t *SelectingTransport) RoundTrip(ctx context.Context, ep config.Endpoint, req *http.Request) (*http.Response, error) {
	if ep.HBONECapable && t.HBONE != nil {
		return t.HBONE.RoundTrip(ctx, ep, req)
	}
	return t.Direct.RoundTrip(ctx, ep, req)
}
