package llm

import (
	"encoding/json"
	"fmt"

	"github.com/kgateway-dev/agentgatewayd/internal/llm/universal"
)

// anthropicRequest mirrors the Anthropic Messages API wire shape
// closely enough for translation purposes (spec.md section 4.6
// "Anthropic: split system out of the messages array; rename/
// restructure tool messages; translate stop and token-limit fields").
type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int64              `json:"max_tokens"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string               `json:"role"`
	Content []anthropicContent   `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message *anthropicResponse `json:"message,omitempty"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicTranslator struct{}

// ToProvider splits the canonical system message out of Messages
// (Anthropic requires it as a top-level field) and renames tool
// messages into Anthropic's content-block shape.
func (anthropicTranslator) ToProvider(req universal.Request) ([]byte, error) {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.EffectiveMaxTokens(),
		StopSeqs:    req.StopSequences(),
		Stream:      req.Stream,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		switch m.Role {
		case universal.RoleSystem:
			if out.System != "" {
				out.System += "\n"
			}
			out.System += m.ContentText()
		case universal.RoleTool:
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.ContentText(),
				}},
			})
		case universal.RoleAssistant:
			content := []anthropicContent{}
			if text := m.ContentText(); text != "" {
				content = append(content, anthropicContent{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(tc.Function.Arguments),
				})
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: "assistant", Content: content})
		default:
			out.Messages = append(out.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.ContentText()}},
			})
		}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return json.Marshal(out)
}

func (anthropicTranslator) FromProviderResponse(body []byte) (universal.Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return universal.Response{}, fmt.Errorf("anthropic: parse response: %w", err)
	}
	return anthropicResponseToCanonical(resp), nil
}

func anthropicResponseToCanonical(resp anthropicResponse) universal.Response {
	msg := universal.Message{Role: universal.RoleAssistant}
	var text string
	var calls []universal.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			calls = append(calls, universal.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: universal.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	msg.Content, _ = json.Marshal(text)
	msg.ToolCalls = calls

	finish := mapAnthropicFinishReason(resp.StopReason)
	return universal.Response{
		ID:     resp.ID,
		Model:  resp.Model,
		Object: "chat.completion",
		Choices: []universal.Choice{{
			Index:        0,
			Message:      &msg,
			FinishReason: &finish,
		}},
		Usage: &universal.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// mapAnthropicFinishReason maps Anthropic's stop_reason vocabulary onto
// the canonical finish_reason enum (spec.md section 4.6
// "map finish reasons").
func mapAnthropicFinishReason(reason string) universal.FinishReason {
	switch reason {
	case "max_tokens":
		return universal.FinishLength
	case "tool_use":
		return universal.FinishToolCalls
	case "stop_sequence", "end_turn":
		return universal.FinishStop
	default:
		return universal.FinishStop
	}
}

func (anthropicTranslator) FromProviderStreamDelta(frame []byte) ([]universal.StreamDelta, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, fmt.Errorf("anthropic: parse stream event: %w", err)
	}
	switch ev.Type {
	case "content_block_delta":
		content, _ := json.Marshal(ev.Delta.Text)
		delta := universal.Message{Role: universal.RoleAssistant, Content: content}
		return []universal.StreamDelta{{Choices: []universal.Choice{{Delta: &delta}}}}, nil
	case "message_delta":
		finish := mapAnthropicFinishReason(ev.Delta.StopReason)
		return []universal.StreamDelta{{Choices: []universal.Choice{{FinishReason: &finish}}}}, nil
	case "message_start":
		if ev.Message != nil {
			return []universal.StreamDelta{{ID: ev.Message.ID, Model: ev.Message.Model}}, nil
		}
		return nil, nil
	default:
		// ping, content_block_start/stop, etc. carry no canonical delta.
		return nil, nil
	}
}

func (anthropicTranslator) FromProviderError(body []byte) (universal.ErrorResponse, error) {
	var e anthropicError
	if err := json.Unmarshal(body, &e); err != nil {
		return universal.ErrorResponse{}, fmt.Errorf("anthropic: parse error response: %w", err)
	}
	return universal.ErrorResponse{
		Error: universal.APIError{Type: e.Error.Type, Message: e.Error.Message},
	}, nil
}
