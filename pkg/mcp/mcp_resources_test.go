package mcp

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/suite"

	mcpapp "github.com/siderolabs/talos-mcp-server/mcp-app"
)

// McpResourcesSuite covers the embedded MCP App resources served next to
// the tools that reference them.
type McpResourcesSuite struct {
	BaseMcpSuite
}

func (s *McpResourcesSuite) TestListResources() {
	s.InitMcpClient()

	resources, err := s.ListResources(s.T().Context(), &mcp.ListResourcesParams{})
	s.Require().NoError(err, "call ListResources failed")
	s.Require().NotNil(resources)

	s.Run("includes the system-stats app", func() {
		uris := make([]string, 0, len(resources.Resources))
		for _, resource := range resources.Resources {
			uris = append(uris, resource.URI)
		}
		s.Contains(uris, mcpapp.SystemStatsResourceURI)
	})
	s.Run("app resources carry the MCP App MIME type", func() {
		for _, resource := range resources.Resources {
			if resource.URI != mcpapp.SystemStatsResourceURI {
				continue
			}
			s.Equal(mcpapp.ResourceMIMEType, resource.MIMEType)
		}
	})
}

func (s *McpResourcesSuite) TestReadResource() {
	s.InitMcpClient()

	result, err := s.ReadResource(s.T().Context(), &mcp.ReadResourceParams{URI: mcpapp.SystemStatsResourceURI})
	s.Require().NoError(err, "call ReadResource failed")
	s.Require().NotNil(result)

	s.Run("returns the embedded HTML page", func() {
		s.Require().Len(result.Contents, 1)
		s.Equal(mcpapp.SystemStatsResourceURI, result.Contents[0].URI)
		s.Equal(mcpapp.ResourceMIMEType, result.Contents[0].MIMEType)
		s.Contains(result.Contents[0].Text, "<!doctype html>")
	})
}

func (s *McpResourcesSuite) TestSystemStatsToolMeta() {
	s.InitMcpClient()

	tools, err := s.ListTools(s.T().Context(), &mcp.ListToolsParams{})
	s.Require().NoError(err, "call ListTools failed")

	s.Run("talos_system_stats references the app resource", func() {
		for _, tool := range tools.Tools {
			if tool.Name != "talos_system_stats" {
				continue
			}
			s.Require().NotNil(tool.Meta)
			ui, ok := tool.Meta["ui"].(map[string]any)
			s.Require().True(ok, "expected ui meta on talos_system_stats")
			s.Equal(mcpapp.SystemStatsResourceURI, ui["resourceUri"])
			return
		}
		s.Fail("talos_system_stats tool not found")
	})
}

func TestMcpResources(t *testing.T) {
	suite.Run(t, new(McpResourcesSuite))
}
