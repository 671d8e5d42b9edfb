package mcp

import (
	_ "github.com/siderolabs/talos-mcp-server/pkg/toolsets/config"
	_ "github.com/siderolabs/talos-mcp-server/pkg/toolsets/etcd"
	_ "github.com/siderolabs/talos-mcp-server/pkg/toolsets/full"
	_ "github.com/siderolabs/talos-mcp-server/pkg/toolsets/machine"
)
