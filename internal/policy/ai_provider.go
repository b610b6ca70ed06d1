package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kgateway-dev/agentgatewayd/internal/body"
	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/dispatcher"
	"github.com/kgateway-dev/agentgatewayd/internal/gwerror"
	"github.com/kgateway-dev/agentgatewayd/internal/llm"
	"github.com/kgateway-dev/agentgatewayd/internal/llm/universal"
)

// AIProviderPolicy normalizes a canonical OpenAI-compatible
// chat-completion request/response against an upstream AI provider's
// native wire shape (spec.md section 4.6): for any route whose backend
// is config.BackendAIProvider, it translates the client's request body
// before dispatch, applies the provider's configured model override,
// and translates the provider's response — including each streamed
// delta — back to the canonical shape before the response reaches the
// client. Routes with any other backend kind are untouched.
type AIProviderPolicy struct{}

func (p *AIProviderPolicy) PolicyName() string { return "ai-provider" }
func (p *AIProviderPolicy) PolicyKind() string { return "ai-provider" }

func (p *AIProviderPolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	cfg := req.Backend.AIProvider
	if req.Backend.Kind != config.BackendAIProvider || cfg == nil {
		return Result{}, nil
	}

	data, ok := req.Body.Bytes()
	if !ok {
		return Result{}, gwerror.New(gwerror.KindInvalidRequest, "ai-provider.ApplyRequest",
			fmt.Errorf("chat-completion body exceeds the replay buffer, cannot translate"))
	}
	var canonical universal.Request
	if err := json.Unmarshal(data, &canonical); err != nil {
		return Result{}, gwerror.New(gwerror.KindInvalidRequest, "ai-provider.ApplyRequest",
			fmt.Errorf("decode chat-completion request: %w", err))
	}
	canonical = llm.ApplyModelOverride(canonical, cfg)

	wire, err := llm.For(cfg).ToProvider(canonical)
	if err != nil {
		return Result{}, gwerror.New(gwerror.KindInvalidRequest, "ai-provider.ApplyRequest",
			fmt.Errorf("translate to provider wire format: %w", err))
	}
	req.Body = &BufferedBody{data: wire, replayable: true}

	reqHeaders := http.Header{"Content-Type": []string{"application/json"}}
	if cfg.Variant == config.AIProviderVertex {
		req.URI = dispatcher.VertexPath(cfg)
	}
	if cfg.APIKeyHeader != "" && cfg.APIKey != "" {
		reqHeaders.Set(cfg.APIKeyHeader, cfg.APIKey)
	}
	return Result{RequestHeaders: reqHeaders}, nil
}

func (p *AIProviderPolicy) ApplyResponse(_ context.Context, req *Request, resp *Response) (Result, error) {
	cfg := req.Backend.AIProvider
	if req.Backend.Kind != config.BackendAIProvider || cfg == nil {
		return Result{}, nil
	}
	translator := llm.For(cfg)

	if resp.Stream != nil {
		resp.Stream = body.Transform(resp.Stream, body.NewSSEDecoder(2<<20), body.SSEEncoder{}, func(f body.Frame) (body.Frame, bool, error) {
			if body.IsDone(f) {
				return f, true, nil
			}
			deltas, err := translator.FromProviderStreamDelta(f.Data)
			if err != nil {
				return body.Frame{}, false, fmt.Errorf("translate stream delta: %w", err)
			}
			if len(deltas) == 0 {
				return body.Frame{}, false, nil
			}
			// Every translator in this module emits at most one
			// canonical delta per provider frame; a future provider
			// that legitimately fans one frame out to several deltas
			// would need its own multi-frame decoder, since
			// body.Handler is one-frame-in/one-frame-out by design.
			encoded, err := json.Marshal(deltas[0])
			if err != nil {
				return body.Frame{}, false, err
			}
			return body.Frame{Data: encoded}, true, nil
		})
		return Result{}, nil
	}

	if resp.Body == nil {
		return Result{}, nil
	}
	canonical, err := translator.FromProviderResponse(resp.Body)
	if err != nil {
		return Result{}, gwerror.New(gwerror.KindUpstreamCallFailed, "ai-provider.ApplyResponse",
			fmt.Errorf("translate provider response: %w", err))
	}
	encoded, err := json.Marshal(canonical)
	if err != nil {
		return Result{}, err
	}
	resp.Body = encoded
	return Result{ResponseHeaders: http.Header{"Content-Type": []string{"application/json"}}}, nil
}
