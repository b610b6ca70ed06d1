// Package a2a implements the agent-to-agent JSON-RPC-over-HTTP protocol
// adjunct named in SPEC_FULL.md section 4.9: classifying requests on a
// route tagged protocol=a2a, and rewriting the agent-card discovery
// response's advertised URL to point back at the gateway. Grounded on
// _examples/original_source/crates/agentgateway/src/a2a/mod.rs.
package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// RequestKind classifies an inbound A2A request, mirroring the
// teacher's RequestType enum.
type RequestKind int

const (
	// KindUnknown is any request that is neither a JSON-RPC call nor an
	// agent-card fetch.
	KindUnknown RequestKind = iota
	// KindAgentCard is a GET against one of the well-known agent-card
	// discovery paths; its response needs URL rewriting.
	KindAgentCard
	// KindCall is a POST carrying a JSON-RPC request; Method names the
	// decoded "method" field.
	KindCall
)

// agentCardPaths lists both the current and legacy well-known discovery
// paths (spec.md's source supports both "agent-card.json" from v0.3.0+
// and the older "agent.json").
var agentCardPaths = map[string]bool{
	"/.well-known/agent-card.json": true,
	"/.well-known/agent.json":      true,
}

// Classification is the result of inspecting one request.
type Classification struct {
	Kind   RequestKind
	Method string // populated only for KindCall
	// OriginalPath is the request path as the client saw it, captured
	// before any internal rewrite, so RewriteAgentCard's response
	// rewrite can strip the right suffix even if the route rewrote the
	// path before dispatch.
	OriginalPath string
}

// jsonrpcEnvelope decodes only the "method" field; params/id are left
// untouched since the gateway never needs to rewrite a call's body.
type jsonrpcEnvelope struct {
	Method string `json:"method"`
}

// Classify inspects an inbound request without consuming its body
// irrecoverably: callers that need KindCall's decoded method must pass
// a body they can still forward, so Classify buffers and replaces
// req.Body.
func Classify(req *http.Request) (Classification, error) {
	if req.Method == http.MethodGet && agentCardPaths[req.URL.Path] {
		return Classification{Kind: KindAgentCard, OriginalPath: req.URL.Path}, nil
	}
	if req.Method != http.MethodPost {
		return Classification{Kind: KindUnknown}, nil
	}
	if req.Body == nil {
		return Classification{Kind: KindCall, Method: "unknown"}, nil
	}
	data, err := bufferBody(req)
	if err != nil {
		return Classification{}, fmt.Errorf("a2a: buffer request body: %w", err)
	}
	return ClassifyParts(req.Method, req.URL.Path, data)
}

// ClassifyParts classifies a request from its method, path, and an
// already-materialized body, for callers (like the policy pipeline)
// that hold a replayable request body and so have no need for
// Classify's buffer-and-reset dance over a live *http.Request.
func ClassifyParts(method, path string, body []byte) (Classification, error) {
	if method == http.MethodGet && agentCardPaths[path] {
		return Classification{Kind: KindAgentCard, OriginalPath: path}, nil
	}
	if method != http.MethodPost {
		return Classification{Kind: KindUnknown}, nil
	}
	if len(body) == 0 {
		return Classification{Kind: KindCall, Method: "unknown"}, nil
	}
	var env jsonrpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Method == "" {
		return Classification{Kind: KindCall, Method: "unknown"}, nil
	}
	return Classification{Kind: KindCall, Method: env.Method}, nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	data, err := readAllAndReset(req)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readAllAndReset drains req.Body and reinstalls an equivalent reader so
// the body remains forwardable to the upstream.
func readAllAndReset(req *http.Request) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(req.Body); err != nil {
		return nil, err
	}
	req.Body.Close()
	data := buf.Bytes()
	req.Body = httpNopCloser{bytes.NewReader(data)}
	return data, nil
}

type httpNopCloser struct{ *bytes.Reader }

func (httpNopCloser) Close() error { return nil }

// RewriteAgentCard rewrites the agent card response body's top-level
// "url" field so discovering agents reach the agent back through this
// gateway rather than the upstream's own advertised address (spec.md
// section 4.9 "rewrites the advertised url field... to point at the
// gateway's own bind address"). gatewayBase is the externally-visible
// scheme://host[:port] clients used to reach this route; originalPath
// is the request path the client used, with a well-known suffix still
// attached.
func RewriteAgentCard(body []byte, gatewayBase, originalPath string) ([]byte, error) {
	var card map[string]any
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("a2a: agent card invalid JSON: %w", err)
	}
	if _, ok := card["url"]; !ok {
		return nil, fmt.Errorf("a2a: agent card missing url field")
	}
	path := originalPath
	for suffix := range agentCardPaths {
		if strings.HasSuffix(path, suffix) {
			path = strings.TrimSuffix(path, suffix)
			break
		}
	}
	card["url"] = strings.TrimRight(gatewayBase, "/") + path
	return json.Marshal(card)
}
