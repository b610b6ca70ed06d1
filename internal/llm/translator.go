// Package llm implements the LLM provider normalizer (spec.md section
// 4.6): translating a canonical chat-completion request/response to and
// from provider-specific wire shapes, including streamed deltas.
package llm

import (
	"github.com/kgateway-dev/agentgatewayd/internal/config"
	"github.com/kgateway-dev/agentgatewayd/internal/llm/universal"
)

// Translator converts between the canonical shape and one provider's
// wire format, both for whole requests/responses and for individual
// streamed delta frames (spec.md section 4.6 "Translations required").
type Translator interface {
	// ToProvider renders a canonical request as the provider's native
	// request body bytes.
	ToProvider(req universal.Request) ([]byte, error)
	// FromProviderResponse parses a provider's native (non-streamed)
	// response body into the canonical shape.
	FromProviderResponse(body []byte) (universal.Response, error)
	// FromProviderStreamDelta parses one decoded provider stream frame
	// into zero or more canonical StreamDelta frames (some providers
	// emit control frames with no canonical equivalent).
	FromProviderStreamDelta(frame []byte) ([]universal.StreamDelta, error)
	// FromProviderError parses a provider error body into the canonical
	// error shape.
	FromProviderError(body []byte) (universal.ErrorResponse, error)
}

// ApplyModelOverride implements spec.md section 4.6's "Model override
// rule": if the provider config names a model, it replaces the
// incoming request's model; otherwise the incoming model is preserved.
func ApplyModelOverride(req universal.Request, cfg *config.AIProviderConfig) universal.Request {
	if cfg != nil && cfg.Model != "" {
		req.Model = cfg.Model
	}
	return req
}

// For builds the Translator for cfg's provider variant.
func For(cfg *config.AIProviderConfig) Translator {
	switch cfg.Variant {
	case config.AIProviderAnthropic:
		return anthropicTranslator{}
	case config.AIProviderBedrock:
		return bedrockTranslator{}
	case config.AIProviderGemini:
		return geminiTranslator{}
	case config.AIProviderVertex:
		return vertexTranslator{}
	default:
		return openaiTranslator{}
	}
}
