package policy

import (
	"context"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/expr"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
)

// AuthzPolicy implements expression-based authorization (spec.md
// section 4.2 "Authorization semantics"): a request passes iff no deny
// expression evaluates to true AND (the rule set is empty OR at least
// one allow expression evaluates to true). A route's policy chain may
// declare several AuthzPolicy instances; because the pipeline runs them
// in sequence and any failure short-circuits, multiple rule sets compose
// conjunctively for free — no extra machinery needed.
type AuthzPolicy struct {
	Engine *expr.Engine
	Allow  []*expr.Compiled
	Deny   []*expr.Compiled
	// Response, when true, reruns this rule set during the response
	// phase instead of the request phase (spec.md section 4.2 "response
	// -side authorization (rare, same semantics)").
	Response bool
}

func (p *AuthzPolicy) PolicyName() string { return "authz" }
func (p *AuthzPolicy) PolicyKind() string { return "authz" }

func (p *AuthzPolicy) evaluate(ctx *expr.Context) (bool, error) {
	for _, d := range p.Deny {
		ok, err := p.Engine.Bool(d, ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	if len(p.Allow) == 0 {
		return true, nil
	}
	for _, a := range p.Allow {
		ok, err := p.Engine.Bool(a, ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *AuthzPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	if p.Response {
		return Result{}, nil
	}
	return p.apply(req.ExprCtx)
}

func (p *AuthzPolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	if !p.Response {
		return Result{}, nil
	}
	AttachResponse(req.ExprCtx, resp)
	return p.apply(req.ExprCtx)
}

func (p *AuthzPolicy) apply(ctx *expr.Context) (Result, error) {
	ok, err := p.evaluate(ctx)
	if err != nil {
		return Result{}, gwerror.New(gwerror.KindAuthorizationFailed, "authz.apply", err)
	}
	if !ok {
		return Result{DirectResponse: &DirectResponse{
			StatusCode: http.StatusForbidden,
			Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:       []byte("403 Forbidden\n"),
		}}, nil
	}
	return Result{}, nil
}
