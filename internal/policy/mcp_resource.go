package policy

import (
	"context"
	"encoding/json"

	"github.com/kgateway-dev/agentgatewayd/internal/body"
	"github.com/kgateway-dev/agentgatewayd/internal/mcp"
)

// MCPResourcePolicy extracts an MCP resource identity from a JSON-RPC
// tool-invocation request body and attaches it to the request's
// expression context as the "mcp" provider (SPEC_FULL.md section 4.9),
// so an AuthzPolicy later in the same route's chain can gate access by
// mcp.target/mcp.name/mcp.kind without a separate RBAC engine. Must be
// declared before any authorization policy in the route's Policies.
//
// Its response phase observes (without altering) the streamed
// tool-call frames an MCP session sends back, one JSON-RPC message per
// SSE event, via the body engine's passthrough mode.
type MCPResourcePolicy struct {
	// Target names the upstream MCP server this route proxies to.
	Target string
}

func (p *MCPResourcePolicy) PolicyName() string { return "mcp-resource" }
func (p *MCPResourcePolicy) PolicyKind() string { return "mcp-resource" }

type jsonrpcCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (p *MCPResourcePolicy) ApplyRequest(_ context.Context, req *Request) (Result, error) {
	data, ok := req.Body.Bytes()
	if !ok {
		return Result{}, nil
	}
	var call jsonrpcCall
	if err := json.Unmarshal(data, &call); err != nil {
		return Result{}, nil
	}
	res, ok := mcp.ResourceFromMethod(p.Target, mcp.FrameMethod(call.Method), mcpParamName(call.Params))
	if !ok {
		return Result{}, nil
	}
	if req.ExprCtx != nil {
		AttachMCP(req.ExprCtx, res)
	}
	return Result{}, nil
}

func (p *MCPResourcePolicy) ApplyResponse(_ context.Context, _ *Request, resp *Response) (Result, error) {
	if resp.Stream == nil {
		return Result{}, nil
	}
	resp.Stream = body.Passthrough(resp.Stream, body.NewSSEDecoder(2<<20), func(f body.Frame) {
		var call jsonrpcCall
		if err := json.Unmarshal(f.Data, &call); err != nil {
			return
		}
		if name := mcpParamName(call.Params); name != "" {
			logger.Debug("mcp frame observed", "target", p.Target, "method", call.Method, "name", name)
		}
	})
	return Result{}, nil
}

func mcpParamName(params json.RawMessage) string {
	var tc mcp.ToolCall
	if err := json.Unmarshal(params, &tc); err != nil {
		return ""
	}
	return tc.Name
}
