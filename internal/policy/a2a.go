package policy

import (
	"context"
	"strings"

	"github.com/kgateway-dev/agentgatewayd/internal/a2a"
)

// A2APolicy is the agent-to-agent JSON-RPC-over-HTTP transformation
// adjunct (SPEC_FULL.md section 4.9): attached to a route's Policies
// to tag it as protocol: a2a, it classifies the request and, for an
// agent-card discovery fetch, rewrites the response body's advertised
// url field to point back at this gateway's own bind address.
type A2APolicy struct {
	// GatewayBase is the externally-visible scheme://host[:port]
	// clients use to reach this route.
	GatewayBase string
}

func (p *A2APolicy) PolicyName() string { return "a2a" }
func (p *A2APolicy) PolicyKind() string { return "a2a" }

func (p *A2APolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	data, _ := req.Body.Bytes()
	c, err := a2a.ClassifyParts(req.Method, requestPath(req.URI), data)
	if err != nil {
		return Result{}, err
	}
	if c.Kind != a2a.KindAgentCard || resp.Body == nil {
		return Result{}, nil
	}
	rewritten, err := a2a.RewriteAgentCard(resp.Body, p.GatewayBase, c.OriginalPath)
	if err != nil {
		return Result{}, err
	}
	resp.Body = rewritten
	return Result{}, nil
}

// requestPath strips the query string from a pipeline Request's URI,
// which (built from an incoming server request's url.URL.String())
// carries no scheme or host, only path[?query].
func requestPath(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
