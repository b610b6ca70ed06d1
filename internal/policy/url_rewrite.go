package policy

import (
	"context"
	"fmt"
	"regexp"
)

// URLRewritePolicy replaces the request path with a regex
// substitution before dispatch, grounded on the teacher's
// urlRewriteIR/applyURLRewrite pair (Envoy RegexMatchAndSubstitute
// route action), generalized here from "build an Envoy route action"
// to "rewrite req.URI directly" since this pipeline dispatches requests
// itself rather than handing them to Envoy.
type URLRewritePolicy struct {
	Pattern      *regexp.Regexp
	Substitution string
}

// NewURLRewritePolicy compiles pattern once at config-load time,
// matching the teacher's regexutils.CheckRegexString validation point
// (constructURLRewrite/Validate).
func NewURLRewritePolicy(pattern, substitution string) (*URLRewritePolicy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("url rewrite: invalid regex %q: %w", pattern, err)
	}
	return &URLRewritePolicy{Pattern: re, Substitution: substitution}, nil
}

func (p *URLRewritePolicy) PolicyName() string { return "url-rewrite" }
func (p *URLRewritePolicy) PolicyKind() string { return "url-rewrite" }

func (p *URLRewritePolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	req.URI = p.Pattern.ReplaceAllString(req.URI, p.Substitution)
	return Result{}, nil
}
