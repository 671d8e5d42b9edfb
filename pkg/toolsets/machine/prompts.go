package machine

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/siderolabs/talos-mcp-server/pkg/api"
	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

// loadPerCorePressureThreshold is the one minute load average above which a
// node is flagged for attention. Talos nodes are typically small, so a flat
// threshold is good enough for a first pass triage.
const loadPerCorePressureThreshold = 4.0

func initHealthCheck() []api.ServerPrompt {
	return []api.ServerPrompt{
		{
			Prompt: api.Prompt{
				Name:        "cluster-health-check",
				Title:       "Cluster Health Check",
				Description: "Perform comprehensive health assessment of a Talos Linux cluster",
				Arguments: []api.PromptArgument{
					{
						Name:        "nodes",
						Description: "Optional comma-separated list of node endpoints to limit the check scope (default: all nodes of the selected context)",
						Required:    false,
					},
				},
			},
			Handler: clusterHealthCheckHandler,
		},
	}
}

func initUpgradePlan() []api.ServerPrompt {
	return []api.ServerPrompt{
		{
			Prompt: api.Prompt{
				Name:        "upgrade-plan",
				Title:       "Upgrade Plan",
				Description: "Draft a node-by-node rolling upgrade plan for a Talos Linux cluster",
				Arguments: []api.PromptArgument{
					{
						Name:        "target_version",
						Description: "Talos version to upgrade the cluster to (e.g. v1.10.3)",
						Required:    true,
					},
				},
			},
			Handler: upgradePlanHandler,
		},
	}
}

// clusterHealthCheckHandler gathers version, service, system statistics and
// etcd diagnostics from the cluster and hands them to the LLM for analysis.
func clusterHealthCheckHandler(params api.PromptHandlerParams) (*api.PromptCallResult, error) {
	args := params.GetArguments()
	nodes := splitNodesArgument(args["nodes"])

	klog.Info("Starting Talos cluster health check...")

	diagnostics := gatherClusterDiagnostics(params, nodes)
	promptText := formatHealthCheckPrompt(diagnostics)

	return api.NewPromptCallResult(
		"Cluster health diagnostic data gathered successfully",
		[]api.PromptMessage{
			{
				Role: "user",
				Content: api.PromptContent{
					Type: "text",
					Text: promptText,
				},
			},
			{
				Role: "assistant",
				Content: api.PromptContent{
					Type: "text",
					Text: "I'll analyze the Talos cluster diagnostic data and provide a comprehensive health assessment.",
				},
			},
		},
		nil,
	), nil
}

// upgradePlanHandler gathers the current version and etcd topology of the
// cluster and asks the LLM to draft a rolling upgrade plan.
func upgradePlanHandler(params api.PromptHandlerParams) (*api.PromptCallResult, error) {
	args := params.GetArguments()
	targetVersion := strings.TrimSpace(args["target_version"])
	if targetVersion == "" {
		return nil, fmt.Errorf("missing required argument: target_version")
	}

	klog.Infof("Gathering upgrade planning data for target version %s...", targetVersion)

	diagnostics := gatherClusterDiagnostics(params, nil)
	promptText := formatUpgradePlanPrompt(diagnostics, targetVersion)

	return api.NewPromptCallResult(
		fmt.Sprintf("Upgrade planning data gathered for target version %s", targetVersion),
		[]api.PromptMessage{
			{
				Role: "user",
				Content: api.PromptContent{
					Type: "text",
					Text: promptText,
				},
			},
			{
				Role: "assistant",
				Content: api.PromptContent{
					Type: "text",
					Text: "I'll review the cluster state and draft a node-by-node rolling upgrade plan.",
				},
			},
		},
		nil,
	), nil
}

// clusterDiagnostics contains the diagnostic data gathered from the cluster.
type clusterDiagnostics struct {
	Context        string
	Versions       string
	Services       string
	Stats          string
	Etcd           string
	CollectionTime time.Time
	TargetNodes    []string
}

// gatherClusterDiagnostics collects diagnostic data from the cluster.
// Every section is best effort: a node or subsystem that cannot be reached
// is reported inside its section instead of failing the whole prompt.
func gatherClusterDiagnostics(params api.PromptHandlerParams, nodes []string) *clusterDiagnostics {
	diag := &clusterDiagnostics{
		CollectionTime: time.Now(),
		Context:        params.ContextName(),
		TargetNodes:    nodes,
	}

	klog.Info("Collecting version diagnostics...")
	result, err := params.Version(params, nodes...)
	diag.Versions = renderVersionDiagnostics(result, err)

	klog.Info("Collecting service diagnostics...")
	result, err = params.Services(params, nodes...)
	diag.Services = renderServiceDiagnostics(result, err)

	klog.Info("Collecting system statistics...")
	result, err = params.Stats(params, nodes...)
	diag.Stats = renderStatsDiagnostics(result, err)

	klog.Info("Collecting etcd diagnostics...")
	result, err = params.EtcdStatus(params, nodes...)
	diag.Etcd = renderEtcdDiagnostics(result, err)

	klog.Info("Cluster health check data collection completed")
	return diag
}

func renderVersionDiagnostics(result *talos.Result, err error) string {
	var sb strings.Builder
	distinct := map[string]bool{}
	forEachNode(result, err, &sb, func(endpoint string, payload any) string {
		info, ok := payload.(talos.VersionInfo)
		if !ok {
			return "unexpected version payload"
		}
		distinct[info.Tag] = true
		return fmt.Sprintf("- **%s**: %s (platform: %s, %s/%s)", endpoint, info.Tag, info.Platform, info.OS, info.Arch)
	})
	if len(distinct) > 1 {
		sb.WriteString(fmt.Sprintf("\n\n**Version skew detected:** %d distinct Talos versions across the queried nodes", len(distinct)))
	}
	return sb.String()
}

func renderServiceDiagnostics(result *talos.Result, err error) string {
	var sb strings.Builder
	forEachNode(result, err, &sb, func(endpoint string, payload any) string {
		services, ok := payload.([]talos.ServiceInfo)
		if !ok {
			return "unexpected service payload"
		}
		var issues []string
		for _, svc := range services {
			if svc.Healthy || svc.HealthUnknown {
				continue
			}
			issue := fmt.Sprintf("%s (state: %s", svc.ID, svc.State)
			if svc.LastMessage != "" {
				issue += ", last message: " + svc.LastMessage
			}
			issues = append(issues, issue+")")
		}
		if len(issues) == 0 {
			return fmt.Sprintf("- **%s**: %d services, all healthy or health unknown", endpoint, len(services))
		}
		return fmt.Sprintf("- **%s**: %d services, unhealthy: %s", endpoint, len(services), strings.Join(issues, "; "))
	})
	return sb.String()
}

func renderStatsDiagnostics(result *talos.Result, err error) string {
	var sb strings.Builder
	forEachNode(result, err, &sb, func(endpoint string, payload any) string {
		stats, ok := payload.(talos.SystemStats)
		if !ok {
			return "unexpected statistics payload"
		}
		var flags []string
		if stats.Load1 > loadPerCorePressureThreshold {
			flags = append(flags, "high load")
		}
		if stats.MemTotal > 0 && stats.MemAvailable*10 < stats.MemTotal {
			flags = append(flags, "low available memory")
		}
		line := fmt.Sprintf("- **%s**: load %.2f/%.2f/%.2f, memory %s available of %s, up since %s",
			endpoint, stats.Load1, stats.Load5, stats.Load15,
			formatKiB(stats.MemAvailable), formatKiB(stats.MemTotal),
			stats.BootTime.Format(time.RFC3339))
		if len(flags) > 0 {
			line += " (" + strings.Join(flags, ", ") + ")"
		}
		return line
	})
	return sb.String()
}

func renderEtcdDiagnostics(result *talos.Result, err error) string {
	var sb strings.Builder
	forEachNode(result, err, &sb, func(endpoint string, payload any) string {
		status, ok := payload.(talos.EtcdMemberStatus)
		if !ok {
			return "unexpected etcd payload"
		}
		role := "follower"
		if status.MemberID == status.Leader {
			role = "leader"
		}
		line := fmt.Sprintf("- **%s**: member %x is the %s, db size %d bytes, raft index %d",
			endpoint, status.MemberID, role, status.DBSize, status.RaftIndex)
		if len(status.Errors) > 0 {
			line += ", errors: " + strings.Join(status.Errors, "; ")
		}
		return line
	})
	return sb.String()
}

// forEachNode walks the per-node fan-out outcome in endpoint order and writes
// one rendered line per node, folding per-node errors into the section text.
func forEachNode(result *talos.Result, err error, sb *strings.Builder, render func(endpoint string, payload any) string) {
	if result == nil {
		fmt.Fprintf(sb, "*Collection failed: %v*", err)
		return
	}
	var lines []string
	for _, endpoint := range slices.Sorted(maps.Keys(result.Nodes)) {
		node := result.Nodes[endpoint]
		if node.Err != nil {
			lines = append(lines, fmt.Sprintf("- **%s**: unreachable or failed (%s: %s)", endpoint, node.Err.Code, node.Err.Message))
			continue
		}
		lines = append(lines, render(endpoint, node.Payload))
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func formatKiB(kib uint64) string {
	switch {
	case kib >= 1<<20:
		return fmt.Sprintf("%.1f GiB", float64(kib)/float64(1<<20))
	case kib >= 1<<10:
		return fmt.Sprintf("%.1f MiB", float64(kib)/float64(1<<10))
	default:
		return fmt.Sprintf("%d KiB", kib)
	}
}

func splitNodesArgument(raw string) []string {
	var nodes []string
	for _, node := range strings.Split(raw, ",") {
		if node = strings.TrimSpace(node); node != "" {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// formatHealthCheckPrompt formats diagnostic data into a prompt for LLM analysis
func formatHealthCheckPrompt(diag *clusterDiagnostics) string {
	var sb strings.Builder

	sb.WriteString("# Talos Cluster Health Check Diagnostic Data\n\n")
	sb.WriteString(fmt.Sprintf("**Collection Time:** %s\n", diag.CollectionTime.Format(time.RFC3339)))
	if diag.Context != "" {
		sb.WriteString(fmt.Sprintf("**Context:** `%s`\n", diag.Context))
	}
	if len(diag.TargetNodes) > 0 {
		sb.WriteString(fmt.Sprintf("**Scope:** Nodes %s\n", strings.Join(diag.TargetNodes, ", ")))
	} else {
		sb.WriteString("**Scope:** All nodes of the context\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Your Task\n\n")
	sb.WriteString("Analyze the following Talos cluster diagnostic data and provide:\n")
	sb.WriteString("1. **Overall Health Status**: Healthy, Warning, or Critical\n")
	sb.WriteString("2. **Critical Issues**: Issues requiring immediate attention\n")
	sb.WriteString("3. **Warnings**: Non-critical issues that should be addressed\n")
	sb.WriteString("4. **Recommendations**: Suggested actions to improve cluster health\n")
	sb.WriteString("5. **Summary**: Brief overview of findings by component\n\n")

	sb.WriteString("---\n\n")

	if diag.Versions != "" {
		sb.WriteString("## 1. Talos Versions\n\n")
		sb.WriteString(diag.Versions)
		sb.WriteString("\n\n")
	}

	if diag.Services != "" {
		sb.WriteString("## 2. System Services\n\n")
		sb.WriteString(diag.Services)
		sb.WriteString("\n\n")
	}

	if diag.Stats != "" {
		sb.WriteString("## 3. System Statistics\n\n")
		sb.WriteString(diag.Stats)
		sb.WriteString("\n\n")
	}

	if diag.Etcd != "" {
		sb.WriteString("## 4. Etcd\n\n")
		sb.WriteString(diag.Etcd)
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("**Please analyze the above diagnostic data and provide your comprehensive health assessment.**\n")

	return sb.String()
}

// formatUpgradePlanPrompt formats cluster state into a prompt asking the LLM
// to draft a rolling upgrade plan towards targetVersion.
func formatUpgradePlanPrompt(diag *clusterDiagnostics, targetVersion string) string {
	var sb strings.Builder

	sb.WriteString("# Talos Cluster Upgrade Planning Data\n\n")
	sb.WriteString(fmt.Sprintf("**Collection Time:** %s\n", diag.CollectionTime.Format(time.RFC3339)))
	if diag.Context != "" {
		sb.WriteString(fmt.Sprintf("**Context:** `%s`\n", diag.Context))
	}
	sb.WriteString(fmt.Sprintf("**Target Version:** `%s`\n\n", targetVersion))

	sb.WriteString("## Your Task\n\n")
	sb.WriteString(fmt.Sprintf("Draft a node-by-node rolling upgrade plan to Talos `%s`:\n", targetVersion))
	sb.WriteString("1. **Preconditions**: Checks to perform before starting (etcd quorum, service health, version skew)\n")
	sb.WriteString("2. **Node Order**: Which nodes to upgrade first and why, keeping the etcd leader last\n")
	sb.WriteString("3. **Per-Node Steps**: Commands and verification steps for each node\n")
	sb.WriteString("4. **Rollback**: What to do if a node fails to come back healthy\n")
	sb.WriteString("5. **Risks**: Anything in the current cluster state that should be resolved before upgrading\n\n")

	sb.WriteString("---\n\n")

	if diag.Versions != "" {
		sb.WriteString("## 1. Current Talos Versions\n\n")
		sb.WriteString(diag.Versions)
		sb.WriteString("\n\n")
	}

	if diag.Etcd != "" {
		sb.WriteString("## 2. Etcd\n\n")
		sb.WriteString(diag.Etcd)
		sb.WriteString("\n\n")
	}

	if diag.Services != "" {
		sb.WriteString("## 3. System Services\n\n")
		sb.WriteString(diag.Services)
		sb.WriteString("\n\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("**Please produce the upgrade plan based on the above cluster state.**\n")

	return sb.String()
}
