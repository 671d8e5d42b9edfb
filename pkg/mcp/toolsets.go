package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"k8s.io/utils/ptr"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
)

// ToolCallRequest adapts the go-sdk raw tool call params to the
// api.ToolCallRequest interface consumed by tool handlers.
type ToolCallRequest struct {
	Name      string
	arguments map[string]any
}

var _ api.ToolCallRequest = (*ToolCallRequest)(nil)

func (r *ToolCallRequest) GetArguments() map[string]any {
	return r.arguments
}

// GetString returns the string argument with the given name, or defaultValue
// when the argument is absent or not a string.
func (r *ToolCallRequest) GetString(name, defaultValue string) string {
	if v, ok := r.arguments[name].(string); ok {
		return v
	}
	return defaultValue
}

// GoSdkToolCallParamsToToolCallRequest decodes the raw JSON arguments of a
// tool call. A non-nil request is always returned so callers can still report
// the tool name when decoding fails.
func GoSdkToolCallParamsToToolCallRequest(params *mcp.CallToolParamsRaw) (*ToolCallRequest, error) {
	ret := &ToolCallRequest{arguments: make(map[string]any)}
	if params == nil {
		return ret, nil
	}
	ret.Name = params.Name
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &ret.arguments); err != nil {
			return ret, fmt.Errorf("failed to parse arguments for tool %s: %w", params.Name, err)
		}
	}
	return ret, nil
}

// ServerToolToGoSdkTool converts an api.ServerTool to go-sdk MCP types.
// The returned handler resolves the Talos client for the target selected in
// the tool call before delegating to the tool's handler.
func ServerToolToGoSdkTool(s *Server, tool api.ServerTool) (*mcp.Tool, mcp.ToolHandler, error) {
	schema := tool.Tool.InputSchema
	if schema == nil {
		return nil, nil, fmt.Errorf("tool %s has no input schema", tool.Tool.Name)
	}
	// Some clients have trouble parsing a schema without a properties object.
	if schema.Properties == nil {
		schemaCopy := *schema
		schemaCopy.Properties = map[string]*jsonschema.Schema{}
		schema = &schemaCopy
	}

	goSdkTool := &mcp.Tool{
		Name:        tool.Tool.Name,
		Description: tool.Tool.Description,
		Annotations: &mcp.ToolAnnotations{
			Title:           tool.Tool.Annotations.Title,
			ReadOnlyHint:    ptr.Deref(tool.Tool.Annotations.ReadOnlyHint, false),
			DestructiveHint: tool.Tool.Annotations.DestructiveHint,
			IdempotentHint:  ptr.Deref(tool.Tool.Annotations.IdempotentHint, false),
			OpenWorldHint:   tool.Tool.Annotations.OpenWorldHint,
		},
		InputSchema: schema,
	}
	if tool.Tool.Meta != nil {
		goSdkTool.Meta = tool.Tool.Meta
	}

	handler := func(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		toolCallRequest, err := GoSdkToolCallParamsToToolCallRequest(request.Params)
		if err != nil {
			return NewTextResult("", err), nil
		}

		// Resolve the Talos client for the target selected in the request
		target := toolCallRequest.GetString(s.p.GetTargetParameterName(), s.p.GetDefaultTarget())
		client, err := s.p.GetClient(ctx, target)
		if err != nil {
			return nil, err
		}

		result, err := tool.Handler(api.ToolHandlerParams{
			Context:                ctx,
			ExtendedConfigProvider: s.configuration,
			Client:                 client,
			TargetProvider:         s.p,
			ToolCallRequest:        toolCallRequest,
			ListOutput:             s.configuration.ListOutput(),
		})
		if err != nil {
			return nil, err
		}
		return NewStructuredResult(result.Content, result.StructuredContent, result.Error), nil
	}

	return goSdkTool, handler, nil
}
