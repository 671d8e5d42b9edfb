package mcp

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/suite"
)

// McpPromptsSuite tests configured prompts over the wire
type McpPromptsSuite struct {
	BaseMcpSuite
}

func (s *McpPromptsSuite) TestListPrompts() {
	s.ReadConfig(`
		[[prompts]]
		name = "test-prompt"
		title = "Test Prompt"
		description = "A test prompt for integration testing"

		[[prompts.arguments]]
		name = "test_arg"
		description = "A test argument"
		required = true

		[[prompts.messages]]
		role = "user"
		content = "Test message with {{test_arg}}"
	`)

	s.InitMcpClient()

	prompts, err := s.ListPrompts(s.T().Context(), &mcp.ListPromptsParams{})

	s.Run("ListPrompts returns prompts", func() {
		s.NoError(err, "call ListPrompts failed")
		s.NotNilf(prompts, "list prompts failed")
	})

	s.Run("config prompt is available with all metadata", func() {
		s.Require().NotNil(prompts)
		var testPrompt *mcp.Prompt
		for _, prompt := range prompts.Prompts {
			if prompt.Name == "test-prompt" {
				testPrompt = prompt
				break
			}
		}
		s.Require().NotNil(testPrompt, "test-prompt should be found")

		s.Equal("test-prompt", testPrompt.Name)
		s.Equal("A test prompt for integration testing", testPrompt.Description, "description should match")
		s.Require().Len(testPrompt.Arguments, 1)
		s.Equal("test_arg", testPrompt.Arguments[0].Name)
		s.Equal("A test argument", testPrompt.Arguments[0].Description)
		s.True(testPrompt.Arguments[0].Required)
	})
}

func (s *McpPromptsSuite) TestGetPrompt() {
	s.ReadConfig(`
		[[prompts]]
		name = "substitution-prompt"
		description = "Test argument substitution"

		[[prompts.arguments]]
		name = "name"
		description = "Name to substitute"
		required = true

		[[prompts.messages]]
		role = "user"
		content = "Hello {{name}}!"
	`)

	s.InitMcpClient()

	result, err := s.GetPrompt(s.T().Context(), &mcp.GetPromptParams{
		Name: "substitution-prompt",
		Arguments: map[string]string{
			"name": "World",
		},
	})

	s.Run("GetPrompt succeeds", func() {
		s.NoError(err, "call GetPrompt failed")
		s.NotNilf(result, "get prompt failed")
	})

	s.Run("argument substitution works", func() {
		s.Require().NotNil(result)
		s.Equal("Test argument substitution", result.Description)
		s.Require().Len(result.Messages, 1)
		s.Equal("user", string(result.Messages[0].Role))
		textContent, ok := result.Messages[0].Content.(*mcp.TextContent)
		s.Require().True(ok, "expected TextContent")
		s.Equal("Hello World!", textContent.Text)
	})
}

func (s *McpPromptsSuite) TestGetPromptMissingRequiredArgument() {
	s.ReadConfig(`
		[[prompts]]
		name = "required-arg-prompt"
		description = "Test required argument validation"

		[[prompts.arguments]]
		name = "required_arg"
		description = "A required argument"
		required = true

		[[prompts.messages]]
		role = "user"
		content = "Content with {{required_arg}}"
	`)

	s.InitMcpClient()

	result, err := s.GetPrompt(s.T().Context(), &mcp.GetPromptParams{
		Name:      "required-arg-prompt",
		Arguments: map[string]string{},
	})

	s.Run("missing required argument returns error", func() {
		s.Error(err, "expected error for missing required argument")
		s.Nil(result)
		s.Contains(err.Error(), "required argument 'required_arg' is missing")
	})
}

func (s *McpPromptsSuite) TestConfigPromptOverridesToolsetPrompt() {
	s.ReadConfig(`
		[[prompts]]
		name = "cluster-health-check"
		description = "Customized health check"

		[[prompts.messages]]
		role = "user"
		content = "Run my customized health check"
	`)

	s.InitMcpClient()

	prompts, err := s.ListPrompts(s.T().Context(), &mcp.ListPromptsParams{})
	s.Require().NoError(err, "call ListPrompts failed")
	s.Require().NotNil(prompts)

	s.Run("prompt appears once with config metadata", func() {
		var found []*mcp.Prompt
		for _, prompt := range prompts.Prompts {
			if prompt.Name == "cluster-health-check" {
				found = append(found, prompt)
			}
		}
		s.Require().Len(found, 1, "config prompt should replace the toolset prompt")
		s.Equal("Customized health check", found[0].Description)
	})
}

func TestMcpPromptsSuite(t *testing.T) {
	suite.Run(t, new(McpPromptsSuite))
}
