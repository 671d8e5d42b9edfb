package machine

import (
	"slices"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets"
)

type Toolset struct{}

var _ api.Toolset = (*Toolset)(nil)

func (t *Toolset) GetName() string {
	return "machine"
}

func (t *Toolset) GetDescription() string {
	return "Query and manage Talos Linux machines: version, containers, statistics, services, logs, reboot, configuration"
}

func (t *Toolset) GetTools() []api.ServerTool {
	return slices.Concat(
		initMachine(),
	)
}

func (t *Toolset) GetPrompts() []api.ServerPrompt {
	return slices.Concat(
		initHealthCheck(),
		initUpgradePlan(),
	)
}

func init() {
	toolsets.Register(&Toolset{})
}
