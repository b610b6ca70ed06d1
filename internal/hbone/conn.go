package hbone

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("hbone")

// State is a pooled connection's lifecycle stage (spec.md section 4.4
// "State machine (per connection)"). Only Ready accepts new streams.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WindowConfig carries the HTTP/2 flow-control tuning spec.md section
// 4.4 requires. ConnectionWindow must be set strictly larger than
// StreamWindow (the source recommends 4x) so one stalled stream cannot
// starve its siblings.
type WindowConfig struct {
	StreamWindow     uint32
	ConnectionWindow uint32
	FrameSize        uint32
}

// DefaultWindowConfig matches the HTTP2_* environment variable defaults
// named in spec.md section 6.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		StreamWindow:     1 << 20,     // 1MiB
		ConnectionWindow: 4 << 20,     // 4x stream window
		FrameSize:        16 << 10,
	}
}

// Conn wraps one pooled HTTP/2 connection and the outstanding-stream
// accounting the pool's capacity check reads without taking the pool
// lock (spec.md section 9 "HBONE pool shape").
type Conn struct {
	key     Key
	cc      *http2.ClientConn
	raw     net.Conn
	created time.Time

	state      atomic.Int32
	streams    atomic.Int32
	lastUnused atomic.Int64 // unix nanos; 0 while streams > 0
}

// dial opens a new TCP connection to key.Address, performs a TLS
// handshake using the client config fetch_certificate(key) supplied,
// and negotiates the HTTP/2 preface with the given window configuration.
func dial(ctx context.Context, key Key, tlsConf *tls.Config, wc WindowConfig) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", key.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", key.Address, err)
	}

	tlsConn := tls.Client(raw, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", key.Address, err)
	}

	t := &http2.Transport{
		MaxReadFrameSize:            wc.FrameSize,
		ReadIdleTimeout:             0,
		StrictMaxConcurrentStreams:  false,
		MaxUploadBufferPerStream:    int32(wc.StreamWindow),
		MaxUploadBufferPerConnection: int32(wc.ConnectionWindow),
	}
	cc, err := t.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("http2 preface %s: %w", key.Address, err)
	}

	c := &Conn{key: key, cc: cc, raw: tlsConn, created: time.Now()}
	c.state.Store(int32(StateReady))
	c.lastUnused.Store(time.Now().UnixNano())
	return c, nil
}

// State reports the connection's current lifecycle stage.
func (c *Conn) State() State { return State(c.state.Load()) }

// StreamsOutstanding is the atomic outstanding-stream counter the pool's
// capacity check reads.
func (c *Conn) StreamsOutstanding() int32 { return c.streams.Load() }

// tryReserve atomically claims one stream slot if the connection is
// Ready and under cap. Returns false without mutating anything if not.
func (c *Conn) tryReserve(cap int32) bool {
	if c.State() != StateReady {
		return false
	}
	for {
		cur := c.streams.Load()
		if cur >= cap {
			return false
		}
		if c.streams.CompareAndSwap(cur, cur+1) {
			c.lastUnused.Store(0)
			return true
		}
	}
}

// release returns a stream slot. When the count returns to zero it
// stamps lastUnused so the idle-reclamation sweep can find it.
func (c *Conn) release() {
	if c.streams.Add(-1) == 0 {
		c.lastUnused.Store(time.Now().UnixNano())
	}
}

func (c *Conn) idleSince() (time.Time, bool) {
	ns := c.lastUnused.Load()
	if ns == 0 || c.streams.Load() != 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// drain marks the connection Draining: no new streams, existing ones
// finish naturally.
func (c *Conn) drain() {
	c.state.Store(int32(StateDraining))
}

// closeNow tears the connection down immediately; any in-flight stream
// observes an error on its next read/write.
func (c *Conn) closeNow() {
	c.state.Store(int32(StateClosed))
	_ = c.cc.Close()
	_ = c.raw.Close()
}

// openConnectStream initiates one HTTP/2 CONNECT stream on c, per
// spec.md section 6's HBONE wire contract: ":method = CONNECT",
// ":authority = ip:port", HTTP/2, 200 response upgrades the stream to a
// bidirectional byte pipe.
func (c *Conn) openConnectStream(ctx context.Context, authority string) (io.ReadWriteCloser, error) {
	pr, pw := io.Pipe()
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Scheme: "https", Host: authority},
		Host:   authority,
		Body:   pr,
		Proto:  "HTTP/2.0",
		Header: http.Header{},
	}
	req = req.WithContext(ctx)

	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("hbone connect %s: %w", authority, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("hbone connect %s: unexpected status %d", authority, resp.StatusCode)
	}
	return &stream{w: pw, r: resp.Body}, nil
}

// stream is the bidirectional byte pipe a CONNECT stream exposes to the
// upstream dispatcher.
type stream struct {
	w io.WriteCloser
	r io.ReadCloser
}

func (s *stream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stream) Close() error {
	werr := s.w.Close()
	rerr := s.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
