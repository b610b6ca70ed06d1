package policy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"

	"github.com/kgateway-dev/agentgatewayd/internal/expr"
)

// NamedTemplate is one "render a named template against the attribute
// map, write the result to a header" rule (spec.md section 4.2
// "Template engine: named templates evaluated against an attribute
// map; rendered string written to the named header").
type NamedTemplate struct {
	Header   string
	Template *template.Template
}

// TemplatePolicy is the kept-for-config-compatibility flavor of
// transformation; DESIGN.md's Open Question (c) consolidates
// production use on TransformPolicy's expression engine, but a config
// that still declares named templates is translated here rather than
// rejected. It evaluates the same lazily-populated attribute map the
// expression engine uses, via Context.Activation, so both flavors see
// identical request/response data.
type TemplatePolicy struct {
	Engine          *expr.Engine
	RequestHeaders  []NamedTemplate
	ResponseHeaders []NamedTemplate
}

func (p *TemplatePolicy) PolicyName() string { return "transformation-template" }
func (p *TemplatePolicy) PolicyKind() string { return "transformation-template" }

func render(tmpl *template.Template, ctx *expr.Context) (string, error) {
	act, err := ctx.Activation(nil, map[string]bool{
		"request": true, "response": true, "source": true,
		"destination": true, "backend": true, "jwt": true, "mcp": true,
	})
	if err != nil {
		return "", fmt.Errorf("build template activation: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, act); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func (p *TemplatePolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	out := http.Header{}
	for _, t := range p.RequestHeaders {
		s, err := render(t.Template, req.ExprCtx)
		if err != nil {
			return Result{}, err
		}
		out.Set(t.Header, s)
	}
	return Result{RequestHeaders: out}, nil
}

func (p *TemplatePolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	AttachResponse(req.ExprCtx, resp)
	out := http.Header{}
	for _, t := range p.ResponseHeaders {
		s, err := render(t.Template, req.ExprCtx)
		if err != nil {
			return Result{}, err
		}
		out.Set(t.Header, s)
	}
	return Result{ResponseHeaders: out}, nil
}
