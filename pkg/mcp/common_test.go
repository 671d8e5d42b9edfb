package mcp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/siderolabs/talos-mcp-server/internal/test"
	"github.com/siderolabs/talos-mcp-server/pkg/config"
	"github.com/siderolabs/talos-mcp-server/pkg/prompts"
	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

// BaseMcpSuite wires a complete MCP server over a fake apid: a talosconfig
// with a reachable "prod" context and an unreachable "staging" context, a
// provider built from it, and a streamable HTTP client session.
type BaseMcpSuite struct {
	suite.Suite
	*test.McpClient
	mcpServer *Server
	material  *test.TLSMaterial
	apid      *test.Apid
	Cfg       *config.StaticConfig
}

func (s *BaseMcpSuite) SetupTest() {
	prompts.Clear()
	s.material = test.NewTLSMaterial()
	s.apid = test.StartApid(s.T(), s.material)
	s.Cfg = config.Default()
	s.Cfg.ListOutput = "yaml"
	s.Cfg.Talosconfig = filepath.Join(s.T().TempDir(), "talosconfig")
	s.WriteTalosconfig(s.material.TalosconfigContexts("prod", map[string][]string{
		"prod":    {s.apid.Endpoint()},
		"staging": {"10.6.0.2"},
	}))
}

func (s *BaseMcpSuite) TearDownTest() {
	if s.McpClient != nil {
		s.Close()
	}
	if s.mcpServer != nil {
		s.mcpServer.Close()
	}
}

// ReadConfig parses a TOML configuration document the way the main config
// file is read, registering any [[prompts]] it contains, and keeps the
// talosconfig wiring from SetupTest.
func (s *BaseMcpSuite) ReadConfig(configToml string) {
	cfg, err := config.ReadToml([]byte(configToml))
	s.Require().NoError(err, "Expected to parse server config")
	cfg.ListOutput = s.Cfg.ListOutput
	cfg.Talosconfig = s.Cfg.Talosconfig
	s.Cfg = cfg
}

// WriteTalosconfig replaces the talosconfig file the provider reads.
func (s *BaseMcpSuite) WriteTalosconfig(content string) {
	s.Require().NoError(os.WriteFile(s.Cfg.Talosconfig, []byte(content), 0o600), "Expected to write talosconfig")
}

func (s *BaseMcpSuite) InitMcpClient() {
	s.InitMcpClientWithHeaders(nil)
}

func (s *BaseMcpSuite) InitMcpClientWithHeaders(headers map[string]string) {
	provider, err := talos.NewProvider(s.Cfg.ContextProviderStrategy, talos.ProviderConfig{
		TalosconfigPath: s.Cfg.Talosconfig,
		ContextName:     s.Cfg.Context,
		AllowInsecure:   s.Cfg.AllowInsecure,
		ClientOptions:   []talos.Option{talos.WithDialTimeout(2 * time.Second)},
	})
	s.Require().NoError(err, "Expected no error creating target provider")
	s.mcpServer, err = NewServer(Configuration{StaticConfig: s.Cfg}, provider)
	s.Require().NoError(err, "Expected no error creating MCP server")
	s.McpClient = test.NewMcpClientWithHeaders(s.T(), s.mcpServer.ServeHTTP(), headers)
}

// inputSchema decodes a tool's wire-format input schema (any since
// go-sdk v0.8.0) back into a *jsonschema.Schema for assertions.
func inputSchema(t *testing.T, raw any) *jsonschema.Schema {
	t.Helper()
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err, "Expected to marshal tool input schema")
	schema := &jsonschema.Schema{}
	require.NoError(t, json.Unmarshal(data, schema), "Expected to unmarshal tool input schema")
	return schema
}
