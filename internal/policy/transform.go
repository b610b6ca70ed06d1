package policy

import (
	"context"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/expr"
)

// HeaderTransform is one "evaluate an expression, write the result to a
// named header" rule (spec.md section 4.2 "Transformation", expression
// flavor).
type HeaderTransform struct {
	Header string
	Expr   *expr.Compiled
}

// TransformPolicy applies a set of header transforms to the request
// and/or response (spec.md section 4.2: "Two flavors ... Expression
// engine: same attribute context, typed result coerced to string" —
// consolidated here as the primary flavor per DESIGN.md's Open Question
// (c) resolution; TemplatePolicy remains as a thin adapter for configs
// still declaring named templates).
type TransformPolicy struct {
	Engine          *expr.Engine
	RequestHeaders  []HeaderTransform
	ResponseHeaders []HeaderTransform
	RemoveRequest   []string
	RemoveResponse  []string
}

func (p *TransformPolicy) PolicyName() string { return "transformation" }
func (p *TransformPolicy) PolicyKind() string { return "transformation" }

func (p *TransformPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	out := http.Header{}
	for _, t := range p.RequestHeaders {
		s, err := p.Engine.String(t.Expr, req.ExprCtx)
		if err != nil {
			return Result{}, err
		}
		out.Set(t.Header, s)
	}
	for _, name := range p.RemoveRequest {
		req.Header.Del(name)
	}
	return Result{RequestHeaders: out}, nil
}

func (p *TransformPolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	AttachResponse(req.ExprCtx, resp)
	out := http.Header{}
	for _, t := range p.ResponseHeaders {
		s, err := p.Engine.String(t.Expr, req.ExprCtx)
		if err != nil {
			return Result{}, err
		}
		out.Set(t.Header, s)
	}
	for _, name := range p.RemoveResponse {
		resp.Header.Del(name)
	}
	return Result{ResponseHeaders: out}, nil
}
