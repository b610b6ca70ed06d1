package llm

import (
	"encoding/json"
	"fmt"

	"github.com/kgateway-dev/agentgatewayd/internal/llm/universal"
)

// bedrockConverseRequest mirrors Bedrock's Converse API envelope (spec.md
// section 4.6 "Bedrock: similar to Anthropic but with Bedrock's converse
// envelope"): messages carry a role plus a list of typed content blocks,
// system prompt is a separate top-level array, and generation limits live
// under inferenceConfig rather than at the top level.
type bedrockConverseRequest struct {
	Messages         []bedrockMessage     `json:"messages"`
	System           []bedrockSystemBlock `json:"system,omitempty"`
	InferenceConfig  bedrockInferenceCfg  `json:"inferenceConfig,omitempty"`
	ToolConfig       *bedrockToolConfig   `json:"toolConfig,omitempty"`
}

type bedrockSystemBlock struct {
	Text string `json:"text"`
}

type bedrockInferenceCfg struct {
	MaxTokens     int64    `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type bedrockMessage struct {
	Role    string               `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Text     string               `json:"text,omitempty"`
	ToolUse  *bedrockToolUse      `json:"toolUse,omitempty"`
	ToolResult *bedrockToolResult `json:"toolResult,omitempty"`
}

type bedrockToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type bedrockToolResult struct {
	ToolUseID string                `json:"toolUseId"`
	Content   []bedrockContentBlock `json:"content"`
}

type bedrockToolConfig struct {
	Tools []bedrockTool `json:"tools"`
}

type bedrockTool struct {
	ToolSpec bedrockToolSpec `json:"toolSpec"`
}

type bedrockToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema struct {
		JSON json.RawMessage `json:"json"`
	} `json:"inputSchema"`
}

// bedrockConverseResponse mirrors the Converse API's response envelope.
type bedrockConverseResponse struct {
	Output struct {
		Message bedrockMessage `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
		TotalTokens  int64 `json:"totalTokens"`
	} `json:"usage"`
}

// bedrockConverseStreamEvent mirrors one decoded ConverseStream event
// frame (contentBlockDelta / messageStop / metadata carry the fields
// this translator maps to canonical stream deltas).
type bedrockConverseStreamEvent struct {
	ContentBlockDelta *struct {
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"contentBlockDelta,omitempty"`
	MessageStop *struct {
		StopReason string `json:"stopReason"`
	} `json:"messageStop,omitempty"`
	Metadata *struct {
		Usage struct {
			InputTokens  int64 `json:"inputTokens"`
			OutputTokens int64 `json:"outputTokens"`
		} `json:"usage"`
	} `json:"metadata,omitempty"`
}

// bedrockErrorResponse mirrors Bedrock's error shape, which (unlike
// Anthropic's nested error object) puts the message at the top level
// keyed by "message", with the exception type carried out-of-band in
// the HTTP response's x-amzn-ErrorType header rather than the body;
// Type is left blank here since the body alone cannot recover it.
type bedrockErrorResponse struct {
	Message string `json:"message"`
}

type bedrockTranslator struct{}

// ToProvider splits the canonical system message out into System, like
// Anthropic, but reshapes every message's content into Bedrock's
// content-block array and moves max tokens/temperature/stop sequences
// under inferenceConfig.
func (bedrockTranslator) ToProvider(req universal.Request) ([]byte, error) {
	out := bedrockConverseRequest{
		InferenceConfig: bedrockInferenceCfg{
			MaxTokens:     req.EffectiveMaxTokens(),
			Temperature:   req.Temperature,
			StopSequences: req.StopSequences(),
		},
	}
	for _, m := range req.Messages {
		switch m.Role {
		case universal.RoleSystem:
			out.System = append(out.System, bedrockSystemBlock{Text: m.ContentText()})
		case universal.RoleTool:
			out.Messages = append(out.Messages, bedrockMessage{
				Role: "user",
				Content: []bedrockContentBlock{{
					ToolResult: &bedrockToolResult{
						ToolUseID: m.ToolCallID,
						Content:   []bedrockContentBlock{{Text: m.ContentText()}},
					},
				}},
			})
		case universal.RoleAssistant:
			var content []bedrockContentBlock
			if text := m.ContentText(); text != "" {
				content = append(content, bedrockContentBlock{Text: text})
			}
			for _, tc := range m.ToolCalls {
				content = append(content, bedrockContentBlock{
					ToolUse: &bedrockToolUse{
						ToolUseID: tc.ID,
						Name:      tc.Function.Name,
						Input:     json.RawMessage(tc.Function.Arguments),
					},
				})
			}
			out.Messages = append(out.Messages, bedrockMessage{Role: "assistant", Content: content})
		default:
			out.Messages = append(out.Messages, bedrockMessage{
				Role:    "user",
				Content: []bedrockContentBlock{{Text: m.ContentText()}},
			})
		}
	}
	for _, t := range req.Tools {
		if out.ToolConfig == nil {
			out.ToolConfig = &bedrockToolConfig{}
		}
		spec := bedrockToolSpec{Name: t.Function.Name, Description: t.Function.Description}
		spec.InputSchema.JSON = t.Function.Parameters
		out.ToolConfig.Tools = append(out.ToolConfig.Tools, bedrockTool{ToolSpec: spec})
	}
	return json.Marshal(out)
}

func (bedrockTranslator) FromProviderResponse(body []byte) (universal.Response, error) {
	var resp bedrockConverseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return universal.Response{}, fmt.Errorf("bedrock: parse response: %w", err)
	}

	msg := universal.Message{Role: universal.RoleAssistant}
	var text string
	var calls []universal.ToolCall
	for _, block := range resp.Output.Message.Content {
		switch {
		case block.ToolUse != nil:
			calls = append(calls, universal.ToolCall{
				ID:   block.ToolUse.ToolUseID,
				Type: "function",
				Function: universal.FunctionCall{
					Name:      block.ToolUse.Name,
					Arguments: string(block.ToolUse.Input),
				},
			})
		default:
			text += block.Text
		}
	}
	msg.Content, _ = json.Marshal(text)
	msg.ToolCalls = calls

	finish := mapBedrockStopReason(resp.StopReason)
	return universal.Response{
		Object: "chat.completion",
		Choices: []universal.Choice{{
			Index:        0,
			Message:      &msg,
			FinishReason: &finish,
		}},
		Usage: &universal.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// mapBedrockStopReason maps Bedrock's stopReason vocabulary onto the
// canonical finish_reason enum (spec.md section 4.6 "map finish
// reasons").
func mapBedrockStopReason(reason string) universal.FinishReason {
	switch reason {
	case "max_tokens":
		return universal.FinishLength
	case "tool_use":
		return universal.FinishToolCalls
	case "end_turn", "stop_sequence":
		return universal.FinishStop
	default:
		return universal.FinishStop
	}
}

func (bedrockTranslator) FromProviderStreamDelta(frame []byte) ([]universal.StreamDelta, error) {
	var ev bedrockConverseStreamEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, fmt.Errorf("bedrock: parse stream event: %w", err)
	}
	switch {
	case ev.ContentBlockDelta != nil:
		content, _ := json.Marshal(ev.ContentBlockDelta.Delta.Text)
		delta := universal.Message{Role: universal.RoleAssistant, Content: content}
		return []universal.StreamDelta{{Choices: []universal.Choice{{Delta: &delta}}}}, nil
	case ev.MessageStop != nil:
		finish := mapBedrockStopReason(ev.MessageStop.StopReason)
		return []universal.StreamDelta{{Choices: []universal.Choice{{FinishReason: &finish}}}}, nil
	case ev.Metadata != nil:
		return []universal.StreamDelta{{Usage: &universal.Usage{
			PromptTokens:     ev.Metadata.Usage.InputTokens,
			CompletionTokens: ev.Metadata.Usage.OutputTokens,
			TotalTokens:      ev.Metadata.Usage.InputTokens + ev.Metadata.Usage.OutputTokens,
		}}}, nil
	default:
		// contentBlockStart/messageStart etc. carry no canonical delta.
		return nil, nil
	}
}

func (bedrockTranslator) FromProviderError(body []byte) (universal.ErrorResponse, error) {
	var e bedrockErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return universal.ErrorResponse{}, fmt.Errorf("bedrock: parse error response: %w", err)
	}
	return universal.ErrorResponse{Error: universal.APIError{Message: e.Message}}, nil
}
