package llm

import (
	"encoding/json"
	"fmt"

	"github.com/kgateway-dev/agentgatewayd/internal/llm/universal"
)

// openaiTranslator is the identity translator: OpenAI's wire shape is
// the canonical shape (spec.md section 4.6 "OpenAI/Gemini-compat/Vertex
// -compat: identity on the request/response").
type openaiTranslator struct{}

func (openaiTranslator) ToProvider(req universal.Request) ([]byte, error) {
	return json.Marshal(req)
}

func (openaiTranslator) FromProviderResponse(body []byte) (universal.Response, error) {
	var resp universal.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return universal.Response{}, fmt.Errorf("openai: parse response: %w", err)
	}
	return resp, nil
}

func (openaiTranslator) FromProviderStreamDelta(frame []byte) ([]universal.StreamDelta, error) {
	var d universal.StreamDelta
	if err := json.Unmarshal(frame, &d); err != nil {
		return nil, fmt.Errorf("openai: parse stream delta: %w", err)
	}
	return []universal.StreamDelta{d}, nil
}

func (openaiTranslator) FromProviderError(body []byte) (universal.ErrorResponse, error) {
	var e universal.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return universal.ErrorResponse{}, fmt.Errorf("openai: parse error response: %w", err)
	}
	return e, nil
}

// geminiTranslator targets Gemini's OpenAI-compatibility endpoint
// (`/v1beta/openai/chat/completions`), which is wire-identical to
// OpenAI's shape (spec.md section 4.6 "Gemini-compat: identity"; ground
// truth: original_source/crates/agentgateway/src/llm/gemini.rs
// "Gemini compat mode is the same!").
type geminiTranslator struct{ openaiTranslator }

// vertexTranslator targets Vertex's OpenAI-compatibility endpoint
// (`/v1beta1/projects/{project}/locations/{region}/endpoints/openapi/chat/completions`),
// equally wire-identical (ground truth:
// original_source/crates/agentgateway/src/llm/vertex.rs).
type vertexTranslator struct{ openaiTranslator }
