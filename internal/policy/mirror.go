package policy

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/dispatcher"
)

// MirrorPolicyConfig attaches a best-effort mirror tee to the request
// (spec.md section 4.2 "Mirror"); RunMirror performs the actual
// best-effort send once a dispatcher is available, after the request
// phase completes and the primary request body has been buffered.
type MirrorPolicyConfig struct {
	Backend config.Backend
	BodyCap int
}

func (p *MirrorPolicyConfig) PolicyName() string { return "mirror" }
func (p *MirrorPolicyConfig) PolicyKind() string { return "mirror" }

func (p *MirrorPolicyConfig) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	req.Mirror = &MirrorPolicy{Backend: p.Backend, BodyCap: p.BodyCap}
	return Result{}, nil
}

// RunMirror clones the request (body buffered up to req.Mirror.BodyCap)
// and sends it best-effort to the mirror backend, discarding the
// result (spec.md section 4.2 "Mirror": "Mirror failures never affect
// the primary path"). It must be called from a separate goroutine by
// the caller so the primary response path is never blocked on it.
func RunMirror(ctx context.Context, d *dispatcher.Dispatcher, req *Request, metrics Metrics, routeName string) {
	if req.Mirror == nil {
		return
	}
	mirror := req.Mirror

	var body io.Reader
	if raw, ok := req.Body.Bytes(); ok {
		if len(raw) > mirror.BodyCap {
			raw = raw[:mirror.BodyCap]
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, body)
	if err != nil {
		reportMirrorFailure(metrics, routeName)
		return
	}
	httpReq.Header = req.Header.Clone()

	if _, err := d.Attempt(ctx, mirror.Backend, httpReq); err != nil {
		reportMirrorFailure(metrics, routeName)
	}
}

func reportMirrorFailure(metrics Metrics, routeName string) {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	metrics.IncMirrorFailures(routeName)
}
