package mcp

import (
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/suite"
)

// serverSettleDelay is the time to wait after receiving a notification for the server
// to finish updating its internal state. The MCP server sends notifications before
// completing async updates to tools/prompts, so tests that verify server state after
// a notification need to wait for those updates to complete.
const serverSettleDelay = 100 * time.Millisecond

type WatchTalosconfigSuite struct {
	BaseMcpSuite
}

func (s *WatchTalosconfigSuite) SetupTest() {
	s.BaseMcpSuite.SetupTest()
	s.ReadConfig(`
		[[prompts]]
		name = "test-prompt"
		title = "Test Prompt"
		description = "A test prompt for testing"

		[[prompts.arguments]]
		name = "test_arg"
		description = "A test argument"
		required = true

		[[prompts.messages]]
		role = "user"
		content = "Test message with {{test_arg}}"
	`)
}

// TouchTalosconfig rewrites the talosconfig with its current context layout,
// triggering the file watcher.
func (s *WatchTalosconfigSuite) TouchTalosconfig() {
	s.WriteTalosconfig(s.material.TalosconfigContexts("prod", map[string][]string{
		"prod":    {s.apid.Endpoint()},
		"staging": {"10.6.0.2"},
	}))
}

func (s *WatchTalosconfigSuite) TestNotifiesToolsChange() {
	// Given
	s.InitMcpClient()
	// When
	s.TouchTalosconfig()
	notification := s.RequireNotification(s.T(), 5*time.Second, "notifications/tools/list_changed")
	// Then
	s.NotEmpty(notification, "talosconfig watch did not notify")
}

func (s *WatchTalosconfigSuite) TestNotifiesPromptsChange() {
	// Given
	s.InitMcpClient()
	// When
	s.TouchTalosconfig()
	notification := s.RequireNotification(s.T(), 5*time.Second, "notifications/prompts/list_changed")
	// Then
	s.NotEmpty(notification, "talosconfig watch did not notify")
}

func (s *WatchTalosconfigSuite) TestNotifiesToolsChangeMultipleTimes() {
	// Given
	s.InitMcpClient()
	// When
	for i := 0; i < 3; i++ {
		s.TouchTalosconfig()
		notification := s.RequireNotification(s.T(), 5*time.Second, "notifications/tools/list_changed")
		// Then
		s.NotEmpty(notification, "talosconfig watch did not notify on iteration %d", i)
	}
}

func (s *WatchTalosconfigSuite) TestClearsNoLongerAvailableTools() {
	s.InitMcpClient()

	s.Run("contexts list tool is available with multiple contexts", func() {
		tools, err := s.ListTools(s.T().Context(), &mcp.ListToolsParams{})
		s.Require().NoError(err, "call ListTools failed")
		s.Require().NotNil(tools, "list tools failed")
		var found bool
		for _, tool := range tools.Tools {
			if tool.Name == "configuration_contexts_list" {
				found = true
				break
			}
		}
		s.Truef(found, "expected contexts list tool to be available")
	})

	s.Run("contexts list tool is removed after shrinking to one context", func() {
		s.WriteTalosconfig(s.material.Talosconfig("prod", s.apid.Endpoint()))
		s.RequireNotification(s.T(), 5*time.Second, "notifications/tools/list_changed")
		time.Sleep(serverSettleDelay)

		tools, err := s.ListTools(s.T().Context(), &mcp.ListToolsParams{})
		s.Require().NoError(err, "call ListTools failed")
		s.Require().NotNil(tools, "list tools failed")
		for _, tool := range tools.Tools {
			s.Require().Falsef(tool.Name == "configuration_contexts_list", "expected contexts list tool to be removed")
			if schema := inputSchema(s.T(), tool.InputSchema); schema != nil && schema.Properties != nil {
				_, hasContext := schema.Properties["context"]
				s.Require().Falsef(hasContext, "expected context parameter to be removed from tool %s", tool.Name)
			}
		}
	})
}

func TestWatchTalosconfig(t *testing.T) {
	suite.Run(t, new(WatchTalosconfigSuite))
}
