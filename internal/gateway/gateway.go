// Package gateway wires the route matcher, policy pipeline, and
// dispatcher into one listener.Handler, implementing the data-flow
// spec.md section 2 describes: "bytes -> listener demuxer -> route
// matcher -> policy pipeline ... -> upstream dispatcher -> transport
// -> response path -> policy pipeline (response-side) -> client".
package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/appctx"
	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
	"github.com/kgateway-dev/agentgatewayd/internal/listener"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
	"github.com/kgateway-dev/agentgatewayd/internal/policy"
	"github.com/kgateway-dev/agentgatewayd/internal/route"
)

var logger = logging.New("gateway")

var _ listener.Handler = (*Gateway)(nil)

// bodyBufferCap bounds how much of a request body RunRequest's retry
// attachment will buffer for replay; above it the retry policy forces
// attempts=1 (spec.md section 9 "Replayable bodies").
const bodyBufferCap = 1 << 20 // 1 MiB

// Gateway implements listener.Handler: for each accepted HTTP request
// it matches a route, runs the pipeline, dispatches upstream, and runs
// the response pipeline before writing the result back to the client.
type Gateway struct {
	app     *appctx.Context
	pl      *policy.Pipeline
	mu      sync.RWMutex
	matcher map[string]*route.Matcher // bind name -> matcher, rebuilt on Reload
}

// New builds a Gateway bound to app. Call Reload once the initial
// config.Snapshot is available and whenever it changes.
func New(app *appctx.Context) *Gateway {
	return &Gateway{app: app, pl: policy.New(app.Metrics), matcher: map[string]*route.Matcher{}}
}

// Reload rebuilds the per-bind route matchers from snap and swaps it
// into app.Store (spec.md section 3 "Bind... replaced atomically on
// config change").
func (g *Gateway) Reload(snap *config.Snapshot) {
	next := make(map[string]*route.Matcher, len(snap.Binds))
	for _, b := range snap.Binds {
		next[b.Name] = route.New(b)
	}
	if v, err := config.ComputeVersion(snap.Binds); err == nil {
		snap.Version = v
	} else {
		logger.Error("failed to compute snapshot version", "error", err)
	}
	g.mu.Lock()
	g.matcher = next
	g.mu.Unlock()
	g.app.Store.Swap(snap)
}

func (g *Gateway) matcherFor(bind *config.Bind) *route.Matcher {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.matcher[bind.Name]
}

// ServeBind implements listener.Handler.
func (g *Gateway) ServeBind(bind *config.Bind, w http.ResponseWriter, r *http.Request) {
	m := g.matcherFor(bind)
	if m == nil {
		writeDirect(w, policy.FromError(gwerror.New(gwerror.KindBackendDoesNotExist, "gateway.ServeBind",
			errNoBindConfigured{bind.Name})))
		return
	}

	matchReq := route.Request{Authority: r.Host, Path: r.URL.Path, Method: r.Method, Headers: r.Header}
	result, err := m.Match(matchReq)
	if err != nil {
		writeDirect(w, policy.NotFound())
		return
	}

	req, firstBody := g.buildRequest(r, result.Route)
	ctx := r.Context()

	if direct, err := g.pl.RunRequest(ctx, req); err != nil {
		writeDirect(w, policy.FromError(err))
		return
	} else if direct != nil {
		g.finishWithDirect(ctx, req, direct, w)
		return
	}

	attempt := 0
	upstreamResp, err := policy.RunWithRetry(ctx, g.app.Dispatcher, req, func() (*http.Request, error) {
		attempt++
		var body io.Reader
		if attempt == 1 {
			body = firstBody
		} else if data, ok := req.Body.Bytes(); ok {
			body = bytesReader(data)
		}
		upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, body)
		if err != nil {
			return nil, err
		}
		upstreamReq.Header = req.Header
		return upstreamReq, nil
	})
	if err != nil {
		writeDirect(w, policy.FromError(err))
		return
	}
	if req.Mirror != nil {
		go policy.RunMirror(context.WithoutCancel(ctx), g.app.Dispatcher, req, g.app.Metrics, req.Route.Name)
	}

	resp := &policy.Response{StatusCode: upstreamResp.StatusCode, Header: upstreamResp.Header}
	if isStreamingResponse(upstreamResp.Header) {
		// Hand the body straight to the response pipeline so a
		// streaming-aware policy (content filter, AI provider
		// normalization) can wrap it through the body engine
		// frame-by-frame instead of forcing the whole response to
		// buffer first (spec.md section 4.5).
		resp.Stream = upstreamResp.Body
	} else {
		defer upstreamResp.Body.Close()
		data, err := io.ReadAll(upstreamResp.Body)
		if err != nil {
			writeDirect(w, policy.FromError(gwerror.New(gwerror.KindUpstreamCallFailed, "gateway.ServeBind", err)))
			return
		}
		resp.Body = data
	}

	if direct, err := g.pl.RunResponse(ctx, req, resp); err != nil {
		closeStream(resp)
		writeDirect(w, policy.FromError(err))
		return
	} else if direct != nil {
		closeStream(resp)
		writeDirect(w, direct)
		return
	}

	writeResponse(w, resp)
}

// isStreamingResponse reports whether the upstream response is an SSE
// stream, the one streaming shape this module's AI-provider and MCP
// protocols emit (spec.md section 4.5).
func isStreamingResponse(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "text/event-stream")
}

// closeStream releases resp.Stream when a response-phase policy
// short-circuits before writeResponse gets a chance to drain and close
// it itself.
func closeStream(resp *policy.Response) {
	if resp.Stream != nil {
		resp.Stream.Close()
	}
}

func (g *Gateway) finishWithDirect(ctx context.Context, req *policy.Request, direct *policy.DirectResponse, w http.ResponseWriter) {
	resp := &policy.Response{StatusCode: direct.StatusCode, Header: direct.Header, Body: direct.Body}
	if d2, err := g.pl.RunResponse(ctx, req, resp); err == nil && d2 != nil {
		direct = d2
	} else {
		direct = &policy.DirectResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
	}
	writeDirect(w, direct)
}

func (g *Gateway) buildRequest(r *http.Request, route *config.Route) (*policy.Request, io.Reader) {
	buffered, firstAttemptBody, err := policy.BufferBody(r.Body, bodyBufferCap)
	if err != nil {
		firstAttemptBody = r.Body
	}
	req := &policy.Request{
		Method:     r.Method,
		URI:        r.URL.String(),
		Header:     r.Header.Clone(),
		Body:       buffered,
		Route:      route,
		Backend:    route.Backend,
		ClientAddr: r.RemoteAddr,
	}
	req.ExprCtx = policy.BuildRequestContext(req)
	return req, firstAttemptBody
}

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b []byte
	i int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}

func writeDirect(w http.ResponseWriter, d *policy.DirectResponse) {
	for k, vs := range d.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(d.StatusCode)
	_, _ = w.Write(d.Body)
}

func writeResponse(w http.ResponseWriter, resp *policy.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Stream != nil {
		defer resp.Stream.Close()
		streamCopy(w, resp.Stream)
		return
	}
	_, _ = w.Write(resp.Body)
}

// streamCopy copies a streamed response to w, flushing after every
// chunk so an SSE client sees events as they're produced rather than
// buffered until ServeBind returns.
func streamCopy(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

type errNoBindConfigured struct{ bind string }

func (e errNoBindConfigured) Error() string { return "no route matcher configured for bind " + e.bind }

// DrainTimeout is a shutdown grace period for ServeBind's retry/mirror
// goroutines. No code in this module reads it; shutdown does not wait
// on those goroutines.
const DrainTimeout = 30 * time.Second
