package machine

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"k8s.io/utils/ptr"

	mcpapp "github.com/siderolabs/talos-mcp-server/mcp-app"
	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

// nodesSchema is the shared optional node selector accepted by every
// read-only machine tool. An empty selector fans the call out to every
// endpoint of the selected context.
func nodesSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{Type: "string"},
		Description: "Optional list of node endpoints (IP or host, port optional) to query. " +
			"When omitted, the tool queries every node of the selected context",
	}
}

func initMachine() []api.ServerTool {
	tools := []api.ServerTool{
		{
			Tool: api.Tool{
				Name:        "talos_version",
				Description: "Get the Talos Linux version and platform of cluster nodes",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: Version",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: version,
		},
		{
			Tool: api.Tool{
				Name:        "talos_list_containers",
				Description: "List the containers running on cluster nodes, including Kubernetes pods and system containers",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"namespace": {
							Type:        "string",
							Description: "Container runtime namespace to inspect (Optional, default k8s.io)",
						},
						"driver": {
							Type:        "string",
							Description: "Container runtime driver, one of: containerd, cri (Optional, default containerd)",
							Enum:        []any{"containerd", "cri"},
						},
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: List Containers",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: listContainers,
		},
		{
			Tool: api.Tool{
				Name:        "talos_system_stats",
				Description: "Get CPU, load average and memory statistics of cluster nodes",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: System Statistics",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
				Meta: mcpapp.ToolMeta(mcpapp.SystemStatsResourceURI),
			},
			Handler: systemStats,
		},
		{
			Tool: api.Tool{
				Name:        "talos_list_services",
				Description: "List the system services supervised by Talos on cluster nodes with their state and health",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: List Services",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: listServices,
		},
		{
			Tool: api.Tool{
				Name:        "talos_service_logs",
				Description: "Get a bounded log tail for a Talos system service (e.g. etcd, kubelet, apid) from cluster nodes",
				InputSchema: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"service"},
					Properties: map[string]*jsonschema.Schema{
						"service": {
							Type:        "string",
							Description: "Identifier of the service to fetch logs for (e.g. etcd, kubelet, apid)",
						},
						"namespace": {
							Type:        "string",
							Description: "Log namespace of the service (Optional, default system)",
						},
						"tail_lines": {
							Type:        "integer",
							Description: "Maximum number of log lines to return per node (Optional, default 100)",
						},
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: Service Logs",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: serviceLogs,
		},
		{
			Tool: api.Tool{
				Name:        "talos_reboot",
				Description: "Reboot a single Talos node. The target node must be named explicitly, the reboot never applies cluster-wide",
				InputSchema: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"node"},
					Properties: map[string]*jsonschema.Schema{
						"node": {
							Type:        "string",
							Description: "Endpoint of the node to reboot (IP or host, port optional)",
						},
						"mode": {
							Type:        "string",
							Description: "Reboot mode, one of: default (graceful kexec), powercycle (Optional, default default)",
							Enum:        []any{"default", "powercycle"},
						},
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: Reboot",
					ReadOnlyHint:    ptr.To(false),
					DestructiveHint: ptr.To(true),
					IdempotentHint:  ptr.To(false),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: reboot,
		},
		{
			Tool: api.Tool{
				Name:        "talos_apply_config",
				Description: "Apply a Talos machine configuration document (YAML) to a single node. The target node must be named explicitly",
				InputSchema: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"node", "config"},
					Properties: map[string]*jsonschema.Schema{
						"node": {
							Type:        "string",
							Description: "Endpoint of the node to configure (IP or host, port optional)",
						},
						"config": {
							Type:        "string",
							Description: "Full machine configuration document to apply, as YAML",
						},
						"mode": {
							Type:        "string",
							Description: "Apply mode, one of: auto, no-reboot, reboot, staged, try (Optional, default auto)",
							Enum:        []any{"auto", "no-reboot", "reboot", "staged", "try"},
						},
						"dry_run": {
							Type:        "boolean",
							Description: "Validate the configuration and report the changes without applying them (Optional, default false)",
						},
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: Apply Configuration",
					ReadOnlyHint:    ptr.To(false),
					DestructiveHint: ptr.To(true),
					IdempotentHint:  ptr.To(false),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: applyConfiguration,
		},
		{
			Tool: api.Tool{
				Name:        "talos_kubeconfig",
				Description: "Retrieve the admin kubeconfig of the Kubernetes cluster from a Talos control plane node",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"nodes": nodesSchema(),
					},
				},
				Annotations: api.ToolAnnotations{
					Title:           "Machine: Kubeconfig",
					ReadOnlyHint:    ptr.To(true),
					DestructiveHint: ptr.To(false),
					IdempotentHint:  ptr.To(true),
					OpenWorldHint:   ptr.To(true),
				},
			},
			Handler: kubeconfig,
		},
	}
	return tools
}

// renderResult shapes a per-node fan-out outcome into a tool call result:
// one entry per target endpoint, successful payloads and classified errors
// side by side. A partial failure is reported to the LLM while keeping the
// successful subset visible.
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

func version(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Version(params, nodes...)
	return renderResult(params, result, err)
}

func listContainers(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	namespace := api.OptionalString(params, "namespace", "")
	driver := api.OptionalString(params, "driver", "")
	result, err := params.Containers(params, namespace, driver, nodes...)
	return renderResult(params, result, err)
}

func systemStats(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Stats(params, nodes...)
	return renderResult(params, result, err)
}

func listServices(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Services(params, nodes...)
	return renderResult(params, result, err)
}

func serviceLogs(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	service, err := api.RequiredString(params, "service")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	tailLines, err := api.OptionalInt64(params, "tail_lines", 100)
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Do(params, talos.Request{
		Operation: talos.OpLogs,
		Args: talos.Args{
			"service":    service,
			"namespace":  api.OptionalString(params, "namespace", ""),
			"tail_lines": tailLines,
		},
		Targets: nodes,
	})
	return renderResult(params, result, err)
}

func reboot(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	node, err := api.RequiredString(params, "node")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	mode := api.OptionalString(params, "mode", "default")
	result, err := params.Reboot(params, node, mode)
	return renderResult(params, result, err)
}

func applyConfiguration(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	node, err := api.RequiredString(params, "node")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	config, err := api.RequiredString(params, "config")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	mode := api.OptionalString(params, "mode", "auto")
	dryRun := api.OptionalBool(params, "dry_run", false)
	result, err := params.ApplyConfiguration(params, node, config, mode, dryRun)
	return renderResult(params, result, err)
}

func kubeconfig(params api.ToolHandlerParams) (*api.ToolCallResult, error) {
	nodes, err := api.OptionalStringSlice(params, "nodes")
	if err != nil {
		return api.NewToolCallResult("", err), nil
	}
	result, err := params.Kubeconfig(params, nodes...)
	return renderResult(params, result, err)
}
