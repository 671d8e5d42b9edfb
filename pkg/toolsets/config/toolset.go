package config

import (
	"slices"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets"
)

type Toolset struct{}

var _ api.Toolset = (*Toolset)(nil)

func (t *Toolset) GetName() string {
	return "config"
}

func (t *Toolset) GetDescription() string {
	return "View the current local Talos configuration (talosconfig)"
}

func (t *Toolset) GetTools() []api.ServerTool {
	return slices.Concat(
		initConfiguration(),
	)
}

func (t *Toolset) GetPrompts() []api.ServerPrompt {
	// Config toolset does not provide prompts
	return nil
}

func init() {
	toolsets.Register(&Toolset{})
}
