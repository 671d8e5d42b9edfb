package test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// McpClient wraps an MCP client session connected over streamable HTTP to
// an in-process test server. List-changed notifications received by the
// session are buffered for inspection with RequireNotification.
type McpClient struct {
	ctx           context.Context
	testServer    *httptest.Server
	notifications chan string
	*mcp.ClientSession
}

// McpClientOption customizes how the test MCP client connects.
type McpClientOption func(*mcpClientConfig)

type mcpClientConfig struct {
	endpoint             string
	headers              map[string]string
	allowConnectionError bool
}

// WithEndpoint connects to an already running server at the given URL
// instead of starting an in-process httptest server.
func WithEndpoint(endpoint string) McpClientOption {
	return func(c *mcpClientConfig) {
		c.endpoint = endpoint
	}
}

// WithHTTPHeaders adds the given headers to every HTTP request of the
// session.
func WithHTTPHeaders(headers map[string]string) McpClientOption {
	return func(c *mcpClientConfig) {
		c.headers = headers
	}
}

// WithAllowConnectionError leaves the session nil instead of failing the
// test when the initial connect is rejected. Used for authentication
// failure scenarios.
func WithAllowConnectionError() McpClientOption {
	return func(c *mcpClientConfig) {
		c.allowConnectionError = true
	}
}

func NewMcpClient(t *testing.T, mcpHttpServer http.Handler, options ...McpClientOption) *McpClient {
	cfg := &mcpClientConfig{}
	for _, option := range options {
		option(cfg)
	}
	ret := &McpClient{ctx: t.Context(), notifications: make(chan string, 64)}
	endpoint := cfg.endpoint
	if endpoint == "" {
		require.NotNil(t, mcpHttpServer, "McpHttpServer must be provided")
		ret.testServer = httptest.NewServer(mcpHttpServer)
		endpoint = ret.testServer.URL + "/mcp"
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1.33.7"}, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			ret.notify("notifications/tools/list_changed")
		},
		PromptListChangedHandler: func(context.Context, *mcp.PromptListChangedRequest) {
			ret.notify("notifications/prompts/list_changed")
		},
	})
	transport := &mcp.StreamableClientTransport{Endpoint: endpoint}
	if len(cfg.headers) > 0 {
		transport.HTTPClient = &http.Client{Transport: &headerRoundTripper{headers: cfg.headers}}
	}
	session, err := client.Connect(t.Context(), transport, nil)
	if err != nil && cfg.allowConnectionError {
		return ret
	}
	require.NoError(t, err, "Expected no error connecting MCP client")
	ret.ClientSession = session
	return ret
}

// NewMcpClientWithHeaders connects like NewMcpClient and adds the given
// headers to every HTTP request of the session.
func NewMcpClientWithHeaders(t *testing.T, mcpHttpServer http.Handler, headers map[string]string) *McpClient {
	return NewMcpClient(t, mcpHttpServer, WithHTTPHeaders(headers))
}

type headerRoundTripper struct {
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func (m *McpClient) Close() {
	if m.ClientSession != nil {
		_ = m.ClientSession.Close()
	}
	if m.testServer != nil {
		m.testServer.Close()
	}
}

// CallTool calls a tool by name with the provided arguments.
func (m *McpClient) CallTool(name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return m.ClientSession.CallTool(m.ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (m *McpClient) notify(method string) {
	select {
	case m.notifications <- method:
	default:
	}
}

// RequireNotification waits for a notification with the given method,
// discarding others, and fails the test when none arrives in time.
func (m *McpClient) RequireNotification(t *testing.T, timeout time.Duration, method string) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case received := <-m.notifications:
			if received == method {
				return received
			}
		case <-deadline:
			require.Failf(t, "notification not received", "expected %s within %s", method, timeout)
			return ""
		}
	}
}
