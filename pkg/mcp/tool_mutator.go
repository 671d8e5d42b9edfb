package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
)

type ToolMutator func(tool api.ServerTool) api.ServerTool

const maxTargetsInEnum = 5 // TODO: test and validate that this is a reasonable cutoff

// TargetsListToolName is the generic name of the target list tool before it
// is specialized for the active provider.
const TargetsListToolName = "targets_list"

// ComposeMutators applies the provided mutators in order.
func ComposeMutators(mutators ...ToolMutator) ToolMutator {
	return func(tool api.ServerTool) api.ServerTool {
		for _, m := range mutators {
			tool = m(tool)
		}
		return tool
	}
}

// WithTargetParameter adds a target selection parameter to the tool's input schema if the tool is context-aware
func WithTargetParameter(defaultTarget, targetParameterName string, targets []string) ToolMutator {
	return func(tool api.ServerTool) api.ServerTool {
		if !tool.IsContextAware() || targetParameterName == "" {
			return tool
		}

		if tool.Tool.InputSchema == nil {
			tool.Tool.InputSchema = &jsonschema.Schema{Type: "object"}
		}

		if tool.Tool.InputSchema.Properties == nil {
			tool.Tool.InputSchema.Properties = make(map[string]*jsonschema.Schema)
		}

		if len(targets) > 1 {
			tool.Tool.InputSchema.Properties[targetParameterName] = createTargetProperty(
				defaultTarget,
				targetParameterName,
				targets,
			)
		}

		return tool
	}
}

func createTargetProperty(defaultTarget, targetName string, targets []string) *jsonschema.Schema {
	baseSchema := &jsonschema.Schema{
		Type: "string",
		Description: fmt.Sprintf(
			"Optional parameter selecting which %s to run the tool in. Defaults to %s if not set",
			targetName,
			defaultTarget,
		),
	}

	if len(targets) <= maxTargetsInEnum {
		// Sort targets to ensure consistent enum ordering
		sort.Strings(targets)

		enumValues := make([]any, 0, len(targets))
		for _, c := range targets {
			enumValues = append(enumValues, c)
		}
		baseSchema.Enum = enumValues
	}

	return baseSchema
}

// WithTargetListTool specializes the generic targets_list tool for the active
// provider: the tool is renamed to "{targetParameterName}_list" and its
// handler returns the targets known at mutation time.
func WithTargetListTool(defaultTarget, targetParameterName string, targets []string) ToolMutator {
	return func(tool api.ServerTool) api.ServerTool {
		if tool.Tool.Name != TargetsListToolName || targetParameterName == "" {
			return tool
		}

		tool.Tool.Name = targetParameterName + "_list"
		tool.Tool.Description = fmt.Sprintf("List all available %ss to use with the %s parameter in other tool calls", targetParameterName, targetParameterName)
		tool.Tool.Annotations.Title = capitalize(targetParameterName) + " List"
		tool.Handler = targetListHandler(defaultTarget, targetParameterName, targets)

		return tool
	}
}

func targetListHandler(defaultTarget, targetParameterName string, targets []string) api.ToolHandlerFunc {
	return func(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
		if len(targets) == 0 {
			return api.NewToolCallResult(fmt.Sprintf("No %ss available", targetParameterName), nil), nil
		}

		sorted := make([]string, len(targets))
		copy(sorted, targets)
		sort.Strings(sorted)

		var out strings.Builder
		out.WriteString(fmt.Sprintf("Available %ss (%d total, default: %s)\n", targetParameterName, len(sorted), defaultTarget))
		for _, target := range sorted {
			marker := " "
			if target == defaultTarget {
				marker = "*"
			}
			out.WriteString(fmt.Sprintf("[%s] %s\n", marker, target))
		}
		out.WriteString(fmt.Sprintf("\nTo use a specific %s with any tool, set the '%s' parameter in the tool call arguments", targetParameterName, targetParameterName))
		return api.NewToolCallResult(out.String(), nil), nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
