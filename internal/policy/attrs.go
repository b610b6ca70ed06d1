package policy

import (
	"net/http"
	"strings"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/expr"
	"github.com/kgateway-dev/agentgatewayd/internal/mcp"
)

// headerMap lowercases header names into a flat map[string]any, matching
// the shape the expr engine's custom functions and tests assume
// (request.headers["x-bad"]). Multi-valued headers collapse to their
// first value, matching Envoy/agentgateway's header-lookup semantics for
// a single descriptor key.
func headerMap(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}

// BuildRequestContext wires an expr.Context's "request" and "source"
// providers from a pipeline Request, and "backend" from the matched
// route's backend reference (spec.md section 3 "ExprContext").
// "response"/"jwt"/"mcp" providers are attached separately once they're
// available (jwt by the JWT policy, response once the upstream call
// returns, mcp by the MCP resource extraction for agentic routes).
func BuildRequestContext(req *Request) *expr.Context {
	ctx := expr.NewContext()
	ctx.SetProvider("request", func() any {
		host, path := splitAuthorityPath(req.URI)
		return map[string]any{
			"method":  req.Method,
			"path":    path,
			"host":    host,
			"headers": headerMap(req.Header),
		}
	})
	ctx.SetProvider("source", func() any {
		return map[string]any{"address": req.ClientAddr}
	})
	ctx.SetProvider("destination", func() any {
		return map[string]any{"backend": backendAttrs(req.Backend)}
	})
	ctx.SetProvider("backend", func() any {
		return backendAttrs(req.Backend)
	})
	if req.Identity != nil {
		AttachIdentity(ctx, req.Identity)
	}
	return ctx
}

// AttachIdentity wires the "jwt" provider once the JWT authn policy has
// populated req.Identity.
func AttachIdentity(ctx *expr.Context, id *Identity) {
	ctx.SetProvider("jwt", func() any {
		return map[string]any{
			"sub":    id.Subject,
			"iss":    id.Issuer,
			"claims": id.Claims,
		}
	})
}

// AttachMCP wires the "mcp" provider once the MCP frame inspector has
// extracted a resource identity for this request (spec.md section 3
// "ExprContext"; SPEC_FULL.md section 4.9 "used as the authorization
// subject").
func AttachMCP(ctx *expr.Context, res mcp.Resource) {
	ctx.SetProvider("mcp", func() any { return res.Attrs() })
}

// AttachResponse wires the "response" provider once the upstream call
// has returned, per spec.md section 3 "extended at response time".
func AttachResponse(ctx *expr.Context, resp *Response) {
	ctx.SetProvider("response", func() any {
		return map[string]any{
			"code":    resp.StatusCode,
			"headers": headerMap(resp.Header),
		}
	})
}

func backendAttrs(b config.Backend) map[string]any {
	switch b.Kind {
	case config.BackendService:
		return map[string]any{"name": b.ServiceName, "port": b.ServicePort}
	case config.BackendStaticAddress:
		return map[string]any{"host": b.Host, "port": b.Port}
	case config.BackendAIProvider:
		if b.AIProvider != nil {
			return map[string]any{"provider": string(b.AIProvider.Variant), "model": b.AIProvider.Model}
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}

func splitAuthorityPath(uri string) (host, path string) {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i:]
	}
	return rest, "/"
}
