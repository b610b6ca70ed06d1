package policy

import (
	"context"
	"errors"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
	"github.com/kgateway-dev/agentgatewayd/internal/logging"
)

var logger = logging.New("policy")

// Metrics is the observability seam the pipeline writes through; it
// stays an interface because a Prometheus-backed /metrics server is an
// external collaborator out of scope for this module (spec.md section
// 1). MirrorFailures answers spec.md section 9's Open Question (a): the
// source silently swallows mirror failures, this module exposes a
// counter instead.
type Metrics interface {
	IncMirrorFailures(routeName string)
	IncRateLimited(routeName, reason string)
}

// NopMetrics discards every observation; used where the caller hasn't
// wired a real Metrics implementation (e.g. unit tests).
type NopMetrics struct{}

func (NopMetrics) IncMirrorFailures(string)    {}
func (NopMetrics) IncRateLimited(string, string) {}

// Pipeline executes a route's ordered policy chain (spec.md section
// 4.2). Request-phase and response-phase dispatch are both driven by
// interface checks on config.Policy values rather than a central type
// switch, since Go has no exhaustive enum match (spec.md section 9
// "Dynamic-dispatch policy lists").
type Pipeline struct {
	Metrics Metrics
}

// New builds a Pipeline. metrics may be nil, in which case observations
// are discarded.
func New(metrics Metrics) *Pipeline {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Pipeline{Metrics: metrics}
}

// RunRequest walks req.Route.Policies in declared order, applying each
// policy's request phase. It returns a non-nil DirectResponse the
// moment any policy short-circuits; otherwise it returns nil and req
// has been mutated in place (headers merged, Retry/Mirror/Deadline
// attached) ready for upstream dispatch.
func (p *Pipeline) RunRequest(ctx context.Context, req *Request) (*DirectResponse, error) {
	if req.PendingResponseHeaders == nil {
		req.PendingResponseHeaders = http.Header{}
	}
	if req.PendingMultiValued == nil {
		req.PendingMultiValued = map[string]bool{}
	}

	for _, pol := range req.Route.Policies {
		rp, ok := pol.(RequestPolicy)
		if !ok {
			continue
		}
		res, err := rp.ApplyRequest(ctx, req)
		if err != nil {
			return nil, wrapPolicyErr(rp.PolicyKind(), err)
		}

		if res.RequestHeaders != nil {
			if req.Header == nil {
				req.Header = http.Header{}
			}
			mergeHeaders(req.Header, res.RequestHeaders, res.MultiValued)
		}
		if res.ResponseHeaders != nil {
			mergeHeaders(req.PendingResponseHeaders, res.ResponseHeaders, res.MultiValued)
			for k, v := range res.MultiValued {
				req.PendingMultiValued[k] = v
			}
		}
		if res.DirectResponse != nil {
			logger.Debug("policy short-circuited request", "policy", rp.PolicyKind(), "route", req.Route.Name, "status", res.DirectResponse.StatusCode)
			return res.DirectResponse, nil
		}
	}
	return nil, nil
}

// RunResponse walks req.Route.Policies in declared order, applying each
// policy's response phase, then folds in any pending merges accumulated
// during the request phase (spec.md section 4.2 "Order (response
// phase)").
func (p *Pipeline) RunResponse(ctx context.Context, req *Request, resp *Response) (*DirectResponse, error) {
	for _, pol := range req.Route.Policies {
		rp, ok := pol.(ResponsePolicy)
		if !ok {
			continue
		}
		res, err := rp.ApplyResponse(ctx, req, resp)
		if err != nil {
			return nil, wrapPolicyErr(rp.PolicyKind(), err)
		}
		if res.ResponseHeaders != nil {
			if resp.Header == nil {
				resp.Header = http.Header{}
			}
			mergeHeaders(resp.Header, res.ResponseHeaders, res.MultiValued)
		}
		if res.DirectResponse != nil {
			req.MergePending(resp)
			return res.DirectResponse, nil
		}
	}
	req.MergePending(resp)
	return nil, nil
}

// NotFound synthesizes the 404 direct response for a no-match route
// (spec.md section 4.1 "No-match -> 404 direct response, synthesized by
// the policy pipeline").
func NotFound() *DirectResponse {
	return &DirectResponse{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte("404 Not Found\n"),
	}
}

// FromError synthesizes a direct response for a gwerror.Error (or any
// error), using its mapped HTTP status (spec.md section 7).
func FromError(err error) *DirectResponse {
	return &DirectResponse{
		StatusCode: gwerror.StatusOf(err),
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte(err.Error() + "\n"),
	}
}

// wrapPolicyErr attaches op context to a policy failure without
// discarding an already-typed gwerror.Error's Kind: gwerror.StatusOf
// and RetryableErr only inspect the outermost *gwerror.Error in the
// chain, so re-wrapping a JWT-auth or rate-limit failure in a fresh
// KindFilterError would collapse a 403/429 into a 500 (spec.md section
// 7's taxonomy). Only genuinely untyped errors get KindFilterError.
func wrapPolicyErr(policyKind string, err error) error {
	var ge *gwerror.Error
	if errors.As(err, &ge) {
		return err
	}
	return gwerror.New(gwerror.KindFilterError, "policy."+policyKind, err)
}

var _ config.Policy = (*CORSPolicy)(nil)
