package policy

import (
	"context"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
)

// ExtAuthzClient is the gRPC-backed external authorization service
// (spec.md section 6 "Ext-auth/ext-proc services"). The request/
// response contract is the real seam this module implements; the
// streaming transport itself is an external collaborator detail.
type ExtAuthzClient interface {
	Check(ctx context.Context, req ExtAuthzRequest) (ExtAuthzResponse, error)
}

// ExtAuthzRequest carries the attributes an ext-authz backend typically
// inspects: method, path and headers.
type ExtAuthzRequest struct {
	Method  string
	Path    string
	Headers http.Header
}

// ExtAuthzResponse may mutate headers or short-circuit with a direct
// response (spec.md section 6).
type ExtAuthzResponse struct {
	Allowed         bool
	StatusCode      int // used when !Allowed; defaults to 403
	Body            []byte
	RequestHeaders  http.Header
	ResponseHeaders http.Header
}

// ExtAuthzPolicy calls an external authorization service and translates
// its verdict into a pass-through or a direct response (spec.md section
// 4.2 "Order (request phase)": ext-authz runs second, right after CORS).
type ExtAuthzPolicy struct {
	Client  ExtAuthzClient
	Timeout func() context.Context // not read by ApplyRequest; Check runs under the request's ctx
}

func (p *ExtAuthzPolicy) PolicyName() string { return "ext-authz" }
func (p *ExtAuthzPolicy) PolicyKind() string { return "ext-authz" }

func (p *ExtAuthzPolicy) ApplyRequest(ctx context.Context, req *Request) (Result, error) {
	resp, err := p.Client.Check(ctx, ExtAuthzRequest{Method: req.Method, Path: req.URI, Headers: req.Header})
	if err != nil {
		return Result{}, gwerror.New(gwerror.KindAuthorizationFailed, "ext-authz.Check", err)
	}
	if !resp.Allowed {
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusForbidden
		}
		return Result{DirectResponse: &DirectResponse{
			StatusCode: status,
			Header:     resp.ResponseHeaders,
			Body:       resp.Body,
		}}, nil
	}
	return Result{RequestHeaders: resp.RequestHeaders, ResponseHeaders: resp.ResponseHeaders}, nil
}
