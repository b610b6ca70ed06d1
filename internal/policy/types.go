// Package policy implements the request/response policy pipeline
// (spec.md section 4.2): given a request context and a matched route,
// run the route's ordered policy chain and produce either a forwarded
// request or a direct response.
package policy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/expr"
)

// Request is the mutable per-request state the pipeline threads through
// the policy chain. It is not safe to share across requests (spec.md
// section 3 "Request context ... non-sharable").
type Request struct {
	Method  string
	URI     string
	Header  http.Header
	Body    ReplayableBody
	Route   *config.Route
	Backend config.Backend

	// Identity is populated by the JWT policy once authentication
	// succeeds; nil until then.
	Identity *Identity

	// Deadline is the absolute instant the overall operation must
	// complete by (spec.md section 4.2 "request_timeout"). Zero means
	// unset.
	Deadline time.Time
	// BackendTimeout bounds a single upstream attempt (spec.md section
	// 4.2 "backend_request_timeout").
	BackendTimeout time.Duration

	// Retry is attached by the retry policy, nil if none configured.
	Retry *RetryPolicy

	// Mirror is attached by the mirror policy, nil if none configured.
	Mirror *MirrorPolicy

	// ExprCtx backs every expression-based policy in the chain; its
	// providers are wired by the caller before Run (spec.md section 3
	// "ExprContext").
	ExprCtx *expr.Context

	// ClientAddr is the source address, exposed to expressions as
	// source.address.
	ClientAddr string

	// PendingResponseHeaders accumulates response-header merges declared
	// by request-phase policies so they still apply even when a later
	// policy short-circuits with a direct response (spec.md section 4.2
	// "response-phase header merges from earlier policies still apply").
	PendingResponseHeaders http.Header
	PendingMultiValued     map[string]bool
}

// MergePending folds r's accumulated response-header merges into resp,
// honoring the same last-write-wins/multi-valued rules as request-phase
// merges.
func (r *Request) MergePending(resp *Response) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	mergeHeaders(resp.Header, r.PendingResponseHeaders, r.PendingMultiValued)
}

// Identity is the authenticated client identity a JWT policy attaches.
type Identity struct {
	Subject string
	Issuer  string
	Claims  map[string]any
}

// ReplayableBody is a request body the retry policy can resend. Above a
// configured cap the pipeline marks a body non-replayable (spec.md
// section 4.2 "Retry" and section 9 "Replayable bodies").
type ReplayableBody interface {
	// Bytes returns the buffered body, or (nil, false) if the body was
	// too large to buffer (non-replayable).
	Bytes() ([]byte, bool)
	// Replayable reports whether Bytes will succeed.
	Replayable() bool
}

// Response is the pipeline's view of an upstream (or direct) response,
// mutable by response-phase policies before it reaches the client.
// Exactly one of Body/Stream is set: a streaming (e.g. SSE) response
// is handed off to the body engine via Stream so response-phase
// policies can wrap it frame-by-frame (spec.md section 4.5) instead of
// requiring the whole body to buffer first.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte        // nil for a streamed body handed off to the body engine
	Stream     io.ReadCloser // nil for a fully-buffered body
}

// DirectResponse is a fully-formed HTTP response a policy produces to
// bypass upstream dispatch entirely (spec.md GLOSSARY "Direct response").
type DirectResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is what one policy's Apply call produces: a short-circuiting
// DirectResponse, and/or header merges to fold into the request or
// response (spec.md section 4.2 "PolicyResponse").
type Result struct {
	DirectResponse  *DirectResponse
	RequestHeaders  http.Header // merged into Request.Header, last-write-wins
	ResponseHeaders http.Header // merged into Response.Header at response phase
	MultiValued     map[string]bool
}

// merge folds src into dst per header-name, honoring multiValued names
// as append-only and everything else as last-write-wins (spec.md
// section 4.2 "Short-circuiting").
func mergeHeaders(dst http.Header, src http.Header, multiValued map[string]bool) {
	if dst == nil || src == nil {
		return
	}
	for name, values := range src {
		if multiValued[name] {
			for _, v := range values {
				dst.Add(name, v)
			}
			continue
		}
		if len(values) > 0 {
			dst.Set(name, values[len(values)-1])
		}
	}
}

// RequestPolicy runs during the request phase (spec.md section 4.2
// "Order (request phase)"). A policy that wants to short-circuit sets
// Result.DirectResponse; later request-phase policies are then skipped.
type RequestPolicy interface {
	PolicyKind() string
	ApplyRequest(ctx context.Context, req *Request) (Result, error)
}

// ResponsePolicy runs during the response phase (spec.md section 4.2
// "Order (response phase)").
type ResponsePolicy interface {
	PolicyKind() string
	ApplyResponse(ctx context.Context, req *Request, resp *Response) (Result, error)
}

// RetryPolicy and MirrorPolicy are attached to the Request rather than
// run inline, since the dispatcher (not the pipeline) is the one that
// performs attempts and the mirror tee.
type RetryPolicy struct {
	Attempts       int
	RetryableCodes map[int]bool
	BackoffDelay   time.Duration
	ReplayCap      int
}

type MirrorPolicy struct {
	Backend  config.Backend
	BodyCap  int
}
