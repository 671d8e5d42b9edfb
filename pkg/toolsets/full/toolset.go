package full

import (
	"slices"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets/config"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets/etcd"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets/machine"
)

type Full struct{}

var _ api.Toolset = (*Full)(nil)

func (p *Full) GetName() string {
	return "full"
}

func (p *Full) GetDescription() string {
	return "Complete toolset with all tools and prompts"
}

func (p *Full) GetTools() []api.ServerTool {
	return slices.Concat(
		(&config.Toolset{}).GetTools(),
		(&machine.Toolset{}).GetTools(),
		(&etcd.Toolset{}).GetTools(),
	)
}

func (p *Full) GetPrompts() []api.ServerPrompt {
	return slices.Concat(
		(&machine.Toolset{}).GetPrompts(),
	)
}

func init() {
	toolsets.Register(&Full{})
}
