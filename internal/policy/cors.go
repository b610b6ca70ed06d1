package policy

import (
	"context"
	"net/http"
	"strings"
)

// CORSPolicy handles CORS preflight short-circuiting (spec.md section
// 4.2 "Order (request phase)": "CORS preflight short-circuit" runs
// first). Non-preflight requests from an allowed origin pass through
// untouched except for the Access-Control-Allow-Origin (and, when
// configured, Allow-Methods/Allow-Headers) response headers, which are
// still injected as a response-phase merge.
type CORSPolicy struct {
	AllowOrigins []string // "*" or exact origins
	AllowMethods []string
	AllowHeaders []string
	MaxAgeSecs   int
}

func (p *CORSPolicy) PolicyName() string { return "cors" }
func (p *CORSPolicy) PolicyKind() string { return "cors" }

func (p *CORSPolicy) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range p.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (p *CORSPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	origin := req.Header.Get("Origin")
	if !p.originAllowed(origin) {
		return Result{}, nil
	}

	respHeaders := http.Header{}
	respHeaders.Set("Access-Control-Allow-Origin", origin)
	if len(p.AllowMethods) > 0 {
		respHeaders.Set("Access-Control-Allow-Methods", strings.Join(p.AllowMethods, ", "))
	}
	if len(p.AllowHeaders) > 0 {
		respHeaders.Set("Access-Control-Allow-Headers", strings.Join(p.AllowHeaders, ", "))
	}

	isPreflight := req.Method == http.MethodOptions &&
		req.Header.Get("Access-Control-Request-Method") != ""
	if !isPreflight {
		return Result{ResponseHeaders: respHeaders}, nil
	}

	return Result{
		DirectResponse: &DirectResponse{
			StatusCode: http.StatusOK,
			Header:     respHeaders,
		},
	}, nil
}
