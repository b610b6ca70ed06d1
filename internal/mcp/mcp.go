// Package mcp implements the MCP resource authorization subject named
// in SPEC_FULL.md section 4.9: a tagged reference identifying the
// tool/prompt/resource an agentic tool-invocation request targets,
// exposed to the expression engine as the "mcp" attribute so the
// authorization policy's existing allow/deny rule sets can gate access
// without a separate RBAC engine, grounded on
// _examples/original_source/crates/agentgateway/src/mcp/rbac.rs
// (ResourceType/ResourceId).
package mcp

// Kind identifies which MCP capability a Resource refers to, mirroring
// the teacher's ResourceType enum (Tool/Prompt/Resource).
type Kind string

const (
	KindTool     Kind = "tool"
	KindPrompt   Kind = "prompt"
	KindResource Kind = "resource"
)

// Resource is the MCP authorization subject: the upstream MCP server
// ("target") plus the capability name being invoked.
type Resource struct {
	Target string
	Name   string
	Kind   Kind
}

// Attrs renders the resource as the attribute map the "mcp" expr
// provider exposes (spec.md section 3 "ExprContext"): authorization
// expressions reference mcp.target/mcp.name/mcp.kind directly.
func (r Resource) Attrs() map[string]any {
	return map[string]any{
		"target": r.Target,
		"name":   r.Name,
		"kind":   string(r.Kind),
	}
}

// ToolCall is the decoded JSON-RPC "tools/call" request body (MCP's
// streaming tool-invocation protocol, one JSON-RPC message per SSE
// event, per SPEC_FULL.md section 4.9). Fields beyond Name/Arguments
// are intentionally omitted: the gateway only needs the resource
// identity to build an authorization subject, not the full call
// envelope.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// FrameMethod is the subset of JSON-RPC methods the gateway recognizes
// well enough to derive a Resource from, mirroring the method-name
// dispatch the teacher's mcp/relay package does per-request.
type FrameMethod string

const (
	MethodToolsCall      FrameMethod = "tools/call"
	MethodPromptsGet     FrameMethod = "prompts/get"
	MethodResourcesRead  FrameMethod = "resources/read"
)

// ResourceFromMethod builds a Resource for the given target server from
// a JSON-RPC method name and its "name" parameter, or reports ok=false
// for methods that carry no resource identity (initialize, ping,
// list-style calls, etc).
func ResourceFromMethod(target string, method FrameMethod, name string) (Resource, bool) {
	switch method {
	case MethodToolsCall:
		return Resource{Target: target, Name: name, Kind: KindTool}, true
	case MethodPromptsGet:
		return Resource{Target: target, Name: name, Kind: KindPrompt}, true
	case MethodResourcesRead:
		return Resource{Target: target, Name: name, Kind: KindResource}, true
	default:
		return Resource{}, false
	}
}
