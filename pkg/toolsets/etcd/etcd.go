package etcd

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"k8s.io/utils/ptr"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

func nodesSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{Type: "string"},
		Description: "Optional list of control plane node endpoints (IP or host, port optional) to query. " +
			"When omitted, the tool queries every node of the selected context",
	}
}

func initEtcd() []api.ServerTool {
	return []api.ServerTool{
		{
			Tool: api.Tool{
				Name:        "talos_etcd_status",
				Description: "Get the status of the etcd member running on each queried control plane node: leadership, database size and raft progress",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Etcd: Member Status",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: etcdStatus,
		},
		{
			Tool: api.Tool{
				Name:        "talos_etcd_members",
				Description: "List the members of the etcd cluster as seen from the queried control plane nodes",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"query_local": {
							Type: "boolean",
							Description: "Ask each node for its locally known member list instead of the consensus view. " +
								"Useful to diagnose a split or partially joined cluster (Optional, default false)",
						},
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Etcd: List Members",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: etcdMembers,
		},
	}
}

// renderResult shapes a per-node fan-out outcome into a tool call result
// with successful payloads and classified errors side by side.
func renderResult(params api.ToolHandlerParams, result *talos.Result, err error) (*api.ToolCallResult, error) {
	if result == nil {
		return api.NewToolCallResult("", err), nil
	}
	view := make(map[string]any, len(result.Nodes))
	for endpoint, node := range result.Nodes {
		if node.Err != nil {
			view[endpoint] = map[string]any{
				"error": node.Err.Message,
				"code":  string(node.Err.Code),
			}
		} else {
			view[endpoint] = node.Payload
		}
	}
	content, marshalErr := params.ListOutput.PrintObj(view)
	if marshalErr != nil {
		return api.NewToolCallResult("", fmt.Errorf("failed to render node results: %w", marshalErr)), nil
	}
	return api.NewToolCallResult(content, err), nil
}

func etcdStatus(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.EtcdStatus(params, nodes...)
	return renderResult(params, result, err)
}

func etcdMembers(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Do(params, talos.Request{
		Operation: talos.OpEtcdMembers,
		Args: talos.Args{
			"query_local": api.OptionalBool(params, "query_local", false),
		},
		Targets: nodes,
	})
	return renderResult(params, result, err)
}
