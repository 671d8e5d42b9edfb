package config

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"k8s.io/utils/ptr"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/output"
)

func initConfiguration() []api.ServerTool {
	tools := []api.ServerTool{
		{
			Tool: api.Tool{
				Name:        "configuration_contexts_list",
				Description: "List all available context names and associated node endpoints from the talosconfig file",
				InputSchema: &jsonschema.Schema{
					Type: "object",
				},
				Annotations: api.ToolAnnotations{
					Title:           "Configuration: Contexts List",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(false),
				},
			},
			ContextAware:       ptr.To(false),
			TargetListProvider: ptr.To(true),
			Handler:            contextsList,
		},
		// Generic targets list tool for providers with a non-context target
		// parameter. The WithTargetListTool mutator will:
		// - Rename the tool to "{targetParameterName}_list"
		// - Update the description and title accordingly
		// - Set the handler with the actual targets
		{
			Tool: api.Tool{
				Name:        "targets_list",
				Description: "List all available targets",
				InputSchema: &jsonschema.Schema{
					Type: "object",
				},
				Annotations: api.ToolAnnotations{
					Title:           "Targets List",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(false),
				},
			},
			ContextAware:       ptr.To(false),
			TargetListProvider: ptr.To(true),
			Handler:            nil,
		},
		{
			Tool: api.Tool{
				Name:        "configuration_view",
				Description: "Get the current Talos configuration content as a talosconfig YAML without credential material",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"minified": {
							Type: "boolean",
							Description: "Return a minified version of the configuration. " +
								"If set to true, keeps only the current context and its endpoints. " +
								"If set to false, all contexts are returned. " +
								"(Optional, default true)",
						},
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Configuration: View",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					OpenWorldHint:   ptr.To(false),
				},
			},
			ContextAware: ptr.To(false),
			Handler:      configurationView,
		},
	}
	return tools
}

func contextsList(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	view, err := params.Config().View(false, "")
	if err != nil {
		return api.NewToolCallResult("", fmt.Errorf("failed to list contexts: %w", err)), nil
	}

	if len(view.Contexts) == 0 {
		return api.NewToolCallResult("No contexts found in talosconfig", nil), nil
	}

	defaultContext := params.ContextName()

	result := fmt.Sprintf("Available Talos contexts (%d total, default: %s):\n\n", len(view.Contexts), defaultContext)
	result += "Format: [*] CONTEXT_NAME -> NODE_ENDPOINTS\n"
	result += " (* indicates the default context used in tools if context is not set)\n\n"
	result += "Contexts:\n---------\n"
	for _, name := range params.Config().ContextNames() {
		marker := " "
		if name == defaultContext {
			marker = "*"
		}
		result += fmt.Sprintf("%s%s -> %s\n", marker, name, strings.Join(view.Contexts[name].Endpoints, ", "))
	}
	result += "---------\n\n"

	result += "To use a specific context with any tool, set the 'context' parameter in the tool call arguments"

	return api.NewToolCallResult(result, nil), nil
}

func configurationView(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	minify := true
	minified := params.GetArguments()["minified"]
	if _, ok := minified.(bool); ok {
		minify = minified.(bool)
	}
	ret, err := params.Config().View(minify, params.ContextName())
	if err != nil {
		return api.NewToolCallResult("", fmt.Errorf("failed to get configuration: %w", err)), nil
	}
	configurationYaml, err := output.MarshalYaml(ret)
	if err != nil {
		err = fmt.Errorf("failed to get configuration: %w", err)
	}
	return api.NewToolCallResult(configurationYaml, err), nil
}
