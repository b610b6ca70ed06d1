package policy

import (
	"bytes"
	"context"
	"sort"

	"github.com/kgateway-dev/agentgatewayd/internal/body"
	"github.com/kgateway-dev/agentgatewayd/internal/llm/pii"
)

// ContentFilterPolicy scans response bodies for PII spans and redacts
// any match at or above MinScore (spec.md section 4.2's response-phase
// content filter; section 4.6 names the pii recognizers this wires). A
// streamed (SSE) response runs through the body engine so each event
// is scanned and redacted as it arrives, rather than only after the
// whole body has buffered (spec.md section 4.5 "body engine wrapping
// for streaming policies (content filter, AI token accounting)").
type ContentFilterPolicy struct {
	Recognizers []pii.Recognizer
	MinScore    float32
	Mask        string
}

func (p *ContentFilterPolicy) PolicyName() string { return "content-filter" }
func (p *ContentFilterPolicy) PolicyKind() string { return "content-filter" }

func (p *ContentFilterPolicy) recognizers() []pii.Recognizer {
	if p.Recognizers != nil {
		return p.Recognizers
	}
	return pii.DefaultRecognizers()
}

func (p *ContentFilterPolicy) mask() string {
	if p.Mask == "" {
		return "[REDACTED]"
	}
	return p.Mask
}

// redact replaces every recognized span in text with the mask,
// scanning left to right and skipping any span that overlaps one
// already redacted.
func (p *ContentFilterPolicy) redact(text string) string {
	results := pii.ScanAll(p.recognizers(), text, p.MinScore)
	if len(results) == 0 {
		return text
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Start < results[j].Start })

	var buf bytes.Buffer
	cursor := 0
	for _, r := range results {
		if r.Start < cursor {
			continue
		}
		buf.WriteString(text[cursor:r.Start])
		buf.WriteString(p.mask())
		cursor = r.End
	}
	buf.WriteString(text[cursor:])
	return buf.String()
}

func (p *ContentFilterPolicy) ApplyResponse(_ context.Context, _ *Request, resp *Response) (Result, error) {
	if resp.Stream != nil {
		resp.Stream = body.Transform(resp.Stream, body.NewSSEDecoder(2<<20), body.SSEEncoder{}, func(f body.Frame) (body.Frame, bool, error) {
			if body.IsDone(f) {
				return f, true, nil
			}
			return body.Frame{Data: []byte(p.redact(string(f.Data)))}, true, nil
		})
		return Result{}, nil
	}
	if resp.Body != nil {
		resp.Body = []byte(p.redact(string(resp.Body)))
	}
	return Result{}, nil
}
