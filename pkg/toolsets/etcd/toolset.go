package etcd

import (
	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/toolsets"
)

type Toolset struct{}

var _ api.Toolset = (*Toolset)(nil)

func (t *Toolset) GetName() string {
	return "etcd"
}

func (t *Toolset) GetDescription() string {
	return "Inspect the etcd cluster backing the Kubernetes control plane: member status, topology and health"
}

func (t *Toolset) GetTools() []api.ServerTool {
	return initEtcd()
}

func (t *Toolset) GetPrompts() []api.ServerPrompt {
	return nil
}

func init() {
	toolsets.Register(&Toolset{})
}
