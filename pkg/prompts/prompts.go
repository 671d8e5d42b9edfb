package prompts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
)

// configPrompts holds prompts loaded from the configuration file.
var (
	configPromptsMutex sync.RWMutex
	configPrompts      []api.ServerPrompt
)

// LoadFromToml decodes an array of prompt definitions from a TOML primitive
// and registers them as configuration prompts.
func LoadFromToml(_ context.Context, primitive toml.Primitive, md toml.MetaData) error {
	var parsed []api.Prompt
	if err := md.PrimitiveDecode(primitive, &parsed); err != nil {
		return fmt.Errorf("failed to parse prompts section: %w", err)
	}
	for _, prompt := range parsed {
		if prompt.Name == "" {
			return fmt.Errorf("prompt is missing a name")
		}
		if len(prompt.Templates) == 0 {
			return fmt.Errorf("prompt '%s' has no messages", prompt.Name)
		}
	}
	Register(ToServerPrompts(parsed)...)
	return nil
}

// Register adds prompts to the configuration prompt registry.
func Register(prompts ...api.ServerPrompt) {
	configPromptsMutex.Lock()
	defer configPromptsMutex.Unlock()
	configPrompts = append(configPrompts, prompts...)
}

// ConfigPrompts returns the prompts loaded from the configuration file.
func ConfigPrompts() []api.ServerPrompt {
	configPromptsMutex.RLock()
	defer configPromptsMutex.RUnlock()
	return append([]api.ServerPrompt{}, configPrompts...)
}

// Clear removes all registered configuration prompts.
// Called before a configuration reload so removed prompts do not linger.
func Clear() {
	configPromptsMutex.Lock()
	defer configPromptsMutex.Unlock()
	configPrompts = nil
}

// ToServerPrompts converts Prompt definitions to ServerPrompts with handlers
func ToServerPrompts(prompts []api.Prompt) []api.ServerPrompt {
	serverPrompts := make([]api.ServerPrompt, 0, len(prompts))
	for _, prompt := range prompts {
		serverPrompts = append(serverPrompts, api.ServerPrompt{
			Prompt:  prompt,
			Handler: createPromptHandler(prompt),
		})
	}
	return serverPrompts
}

// createPromptHandler creates a handler function for a prompt
func createPromptHandler(prompt api.Prompt) api.PromptHandlerFunc {
	return func(params api.PromptHandlerParams) (*api.PromptCallResult, error) {
		args := params.GetArguments()

		// Validate required arguments
		for _, arg := range prompt.Arguments {
			if arg.Required {
				if _, exists := args[arg.Name]; !exists {
					return nil, fmt.Errorf("required argument '%s' is missing", arg.Name)
				}
			}
		}

		// Render messages with argument substitution
		messages := make([]api.PromptMessage, 0, len(prompt.Templates))
		for _, template := range prompt.Templates {
			content := substituteArguments(template.Content, args)
			messages = append(messages, api.PromptMessage{
				Role: template.Role,
				Content: api.PromptContent{
					Type: "text",
					Text: content,
				},
			})
		}

		return api.NewPromptCallResult(prompt.Description, messages, nil), nil
	}
}

// substituteArguments replaces {{argument}} placeholders in content with the
// provided values. Placeholders for arguments that were not provided are left
// untouched.
func substituteArguments(content string, args map[string]string) string {
	result := content
	for name, value := range args {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{%s}}", name), value)
	}
	return result
}

// MergePrompts merges two slices of prompts, with prompts in override taking precedence
// over prompts in base when they have the same name
func MergePrompts(base, override []api.ServerPrompt) []api.ServerPrompt {
	// Create a map of override prompts by name for quick lookup
	overrideMap := make(map[string]api.ServerPrompt)
	for _, prompt := range override {
		overrideMap[prompt.Prompt.Name] = prompt
	}

	// Build result: start with base prompts, skipping any that are overridden
	result := make([]api.ServerPrompt, 0, len(base)+len(override))
	for _, prompt := range base {
		if _, exists := overrideMap[prompt.Prompt.Name]; !exists {
			result = append(result, prompt)
		}
	}

	// Add all override prompts
	result = append(result, override...)

	return result
}
