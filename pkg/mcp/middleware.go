package mcp

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/siderolabs/talos-mcp-server/pkg/mcplog"
	"github.com/siderolabs/talos-mcp-server/pkg/telemetry"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

// TokenScopesContextKey is the context key under which the HTTP authorization
// layer stores the scopes of a validated OAuth token.
const TokenScopesContextKey = ContextKey("tokenScopes")

// sessionInjectionMiddleware stores the MCP server session in the context so
// that downstream code can send client-facing log notifications.
func sessionInjectionMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if session, ok := req.GetSession().(*mcp.ServerSession); ok && session != nil {
			ctx = context.WithValue(ctx, mcplog.MCPSessionContextKey, session)
		}
		return next(ctx, method, req)
	}
}

// traceContextPropagationMiddleware extracts W3C trace context from the
// request params _meta, enabling distributed traces across MCP clients.
func traceContextPropagationMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if !telemetry.Enabled() {
			return next(ctx, method, req)
		}
		if params := req.GetParams(); params != nil {
			if meta := params.GetMeta(); meta != nil {
				carrier := propagation.MapCarrier{}
				for k, v := range meta {
					if s, ok := v.(string); ok {
						carrier[k] = s
					}
				}
				ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
			}
		}
		return next(ctx, method, req)
	}
}

// tracingMiddleware creates a span for every MCP request. Tool calls get the
// tool name appended to the span name to keep tools distinguishable.
func tracingMiddleware(tracerName string) mcp.Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if !telemetry.Enabled() {
				return next(ctx, method, req)
			}

			spanName := method
			attrs := []attribute.KeyValue{
				attribute.String("mcp.method", method),
			}
			if params, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok {
				if toolReq, _ := GoSdkToolCallParamsToToolCallRequest(params); toolReq != nil && toolReq.Name != "" {
					spanName = fmt.Sprintf("%s %s", method, toolReq.Name)
					attrs = append(attrs, attribute.String("mcp.tool.name", toolReq.Name))
				}
			}

			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			result, err := next(ctx, method, req)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}

func toolCallLoggingMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		switch params := req.GetParams().(type) {
		case *mcp.CallToolParamsRaw:
			toolCallRequest, _ := GoSdkToolCallParamsToToolCallRequest(params)
			klog.V(5).Infof("mcp tool call: %s(%v)", toolCallRequest.Name, toolCallRequest.GetArguments())
			if req.GetExtra() != nil && req.GetExtra().Header != nil {
				buffer := bytes.NewBuffer(make([]byte, 0))
				if err := req.GetExtra().Header.WriteSubset(buffer, map[string]bool{"Authorization": true, "authorization": true}); err == nil {
					klog.V(7).Infof("mcp tool call headers: %s", buffer)
				}
			}
		}
		return next(ctx, method, req)
	}
}

func toolScopedAuthorizationMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		scopes, ok := ctx.Value(TokenScopesContextKey).([]string)
		if !ok {
			return NewTextResult("", fmt.Errorf("authorization failed: Access denied: Tool '%s' requires scope 'mcp:%s' but no scope is available", method, method)), nil
		}
		if !slices.Contains(scopes, "mcp:"+method) && !slices.Contains(scopes, method) {
			return NewTextResult("", fmt.Errorf("authorization failed: Access denied: Tool '%s' requires scope 'mcp:%s' but only scopes %s are available", method, method, scopes)), nil
		}
		return next(ctx, method, req)
	}
}
