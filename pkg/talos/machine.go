package talos

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/siderolabs/talos/pkg/machinery/api/common"
	"github.com/siderolabs/talos/pkg/machinery/api/machine"
	"google.golang.org/protobuf/types/known/emptypb"
)

// VersionInfo is the payload of the version operation for one node.
type VersionInfo struct {
	Tag       string `json:"tag"`
	SHA       string `json:"sha"`
	Built     string `json:"built,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
	OS        string `json:"os,omitempty"`
	Arch      string `json:"arch,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// ContainerInfo describes one container reported by a node.
type ContainerInfo struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
	Image     string `json:"image,omitempty"`
	PID       uint32 `json:"pid,omitempty"`
	Status    string `json:"status"`
	PodID     string `json:"podId,omitempty"`
	Name      string `json:"name,omitempty"`
}

// SystemStats aggregates the CPU, load and memory statistics of one node.
type SystemStats struct {
	BootTime        time.Time `json:"bootTime"`
	CPUUser         float64   `json:"cpuUser"`
	CPUSystem       float64   `json:"cpuSystem"`
	CPUIdle         float64   `json:"cpuIdle"`
	CPUIowait       float64   `json:"cpuIowait"`
	ContextSwitches uint64    `json:"contextSwitches"`
	ProcessesTotal  uint64    `json:"processesTotal"`
	ProcessRunning  uint64    `json:"processRunning"`
	ProcessBlocked  uint64    `json:"processBlocked"`
	Load1           float64   `json:"load1"`
	Load5           float64   `json:"load5"`
	Load15          float64   `json:"load15"`
	MemTotal        uint64    `json:"memTotal"`
	MemFree         uint64    `json:"memFree"`
	MemAvailable    uint64    `json:"memAvailable"`
	MemCached       uint64    `json:"memCached"`
	SwapTotal       uint64    `json:"swapTotal"`
	SwapFree        uint64    `json:"swapFree"`
}

// ServiceInfo describes one supervised service on a node.
type ServiceInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Healthy       bool      `json:"healthy"`
	HealthUnknown bool      `json:"healthUnknown,omitempty"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastChange    time.Time `json:"lastChange,omitzero"`
}

// ServiceLogs is the payload of the logs operation for one node: a bounded
// tail of the requested service's log.
type ServiceLogs struct {
	Service string   `json:"service"`
	Lines   []string `json:"lines"`
}

// RebootStatus is the payload of the reboot operation.
type RebootStatus struct {
	ActorID string `json:"actorId,omitempty"`
}

// ApplyConfigurationStatus is the payload of the apply-configuration
// operation.
type ApplyConfigurationStatus struct {
	Warnings    []string `json:"warnings,omitempty"`
	Mode        string   `json:"mode"`
	ModeDetails string   `json:"modeDetails,omitempty"`
}

// nodeError converts a per-message remote error (reported inside an
// otherwise successful reply) into a REMOTE_OPERATION error.
func nodeError(md *common.Metadata) error {
	if md != nil && md.Error != "" {
		return &Error{Code: ErrorCodeRemoteOperation, Message: md.Error}
	}
	return nil
}

func buildVersionCall(Args) (callFunc, *Error) {
	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.Version(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		if len(resp.Messages) == 0 {
			return nil, fmt.Errorf("empty version reply")
		}
		msg := resp.Messages[0]
		if err := nodeError(msg.Metadata); err != nil {
			return nil, err
		}
		info := VersionInfo{}
		if v := msg.Version; v != nil {
			info.Tag = v.Tag
			info.SHA = v.Sha
			info.Built = v.Built
			info.GoVersion = v.GoVersion
			info.OS = v.Os
			info.Arch = v.Arch
		}
		if p := msg.Platform; p != nil {
			info.Platform = p.Name
		}
		return info, nil
	}, nil
}

func buildContainersCall(args Args) (callFunc, *Error) {
	namespace, argErr := args.stringOr("namespace", "k8s.io")
	if argErr != nil {
		return nil, argErr
	}
	driverName, argErr := args.stringOr("driver", "containerd")
	if argErr != nil {
		return nil, argErr
	}
	var driver common.ContainerDriver
	switch driverName {
	case "containerd":
		driver = common.ContainerDriver_CONTAINERD
	case "cri":
		driver = common.ContainerDriver_CRI
	default:
		return nil, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be one of containerd, cri", "driver")}
	}

	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.Containers(ctx, &machine.ContainersRequest{Namespace: namespace, Driver: driver})
		if err != nil {
			return nil, err
		}
		containers := make([]ContainerInfo, 0)
		for _, msg := range resp.Messages {
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			for _, c := range msg.Containers {
				containers = append(containers, ContainerInfo{
					Namespace: c.Namespace,
					ID:        c.Id,
					Image:     c.Image,
					PID:       c.Pid,
					Status:    c.Status,
					PodID:     c.PodId,
					Name:      c.Name,
				})
			}
		}
		return containers, nil
	}, nil
}

func buildStatsCall(Args) (callFunc, *Error) {
	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		stats := SystemStats{}

		sysStat, err := cli.SystemStat(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		if len(sysStat.Messages) > 0 {
			msg := sysStat.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			stats.BootTime = time.Unix(int64(msg.BootTime), 0).UTC()
			stats.ContextSwitches = msg.ContextSwitches
			stats.ProcessesTotal = msg.ProcessCreated
			stats.ProcessRunning = msg.ProcessRunning
			stats.ProcessBlocked = msg.ProcessBlocked
			if cpu := msg.CpuTotal; cpu != nil {
				stats.CPUUser = cpu.User
				stats.CPUSystem = cpu.System
				stats.CPUIdle = cpu.Idle
				stats.CPUIowait = cpu.Iowait
			}
		}

		loadAvg, err := cli.LoadAvg(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		if len(loadAvg.Messages) > 0 {
			msg := loadAvg.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			stats.Load1 = msg.Load1
			stats.Load5 = msg.Load5
			stats.Load15 = msg.Load15
		}

		memory, err := cli.Memory(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		if len(memory.Messages) > 0 {
			msg := memory.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			if info := msg.Meminfo; info != nil {
				stats.MemTotal = info.Memtotal
				stats.MemFree = info.Memfree
				stats.MemAvailable = info.Memavailable
				stats.MemCached = info.Cached
				stats.SwapTotal = info.Swaptotal
				stats.SwapFree = info.Swapfree
			}
		}

		return stats, nil
	}, nil
}

func buildServicesCall(Args) (callFunc, *Error) {
	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.ServiceList(ctx, &emptypb.Empty{})
		if err != nil {
			return nil, err
		}
		services := make([]ServiceInfo, 0)
		for _, msg := range resp.Messages {
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			for _, svc := range msg.Services {
				info := ServiceInfo{ID: svc.Id, State: svc.State}
				if health := svc.Health; health != nil {
					info.Healthy = health.Healthy
					info.HealthUnknown = health.Unknown
					info.LastMessage = health.LastMessage
					if health.LastChange != nil {
						info.LastChange = health.LastChange.AsTime()
					}
				}
				services = append(services, info)
			}
		}
		return services, nil
	}, nil
}

func buildLogsCall(args Args) (callFunc, *Error) {
	service, argErr := args.requiredString("service")
	if argErr != nil {
		return nil, argErr
	}
	namespace, argErr := args.stringOr("namespace", "system")
	if argErr != nil {
		return nil, argErr
	}
	tailLines, argErr := args.intOr("tail_lines", 100)
	if argErr != nil {
		return nil, argErr
	}
	if tailLines < 0 {
		return nil, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must not be negative", "tail_lines")}
	}

	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		stream, err := cli.Logs(ctx, &machine.LogsRequest{
			Namespace: namespace,
			Id:        service,
			Follow:    false,
			TailLines: int32(tailLines),
		})
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		for {
			data, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if err := nodeError(data.Metadata); err != nil {
				return nil, err
			}
			buf.Write(data.Bytes)
		}
		lines := make([]string, 0)
		scanner := bufio.NewScanner(&buf)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		return ServiceLogs{Service: service, Lines: lines}, nil
	}, nil
}

func buildRebootCall(args Args) (callFunc, *Error) {
	modeName, argErr := args.stringOr("mode", "default")
	if argErr != nil {
		return nil, argErr
	}
	var mode machine.RebootRequest_Mode
	switch modeName {
	case "default":
		mode = machine.RebootRequest_DEFAULT
	case "powercycle":
		mode = machine.RebootRequest_POWERCYCLE
	default:
		return nil, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be one of default, powercycle", "mode")}
	}

	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.Reboot(ctx, &machine.RebootRequest{Mode: mode})
		if err != nil {
			return nil, err
		}
		status := RebootStatus{}
		if len(resp.Messages) > 0 {
			msg := resp.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			status.ActorID = msg.ActorId
		}
		return status, nil
	}, nil
}

func buildApplyConfigurationCall(args Args) (callFunc, *Error) {
	document, argErr := args.requiredString("config")
	if argErr != nil {
		return nil, argErr
	}
	modeName, argErr := args.stringOr("mode", "auto")
	if argErr != nil {
		return nil, argErr
	}
	dryRun, argErr := args.boolOr("dry_run", false)
	if argErr != nil {
		return nil, argErr
	}
	var mode machine.ApplyConfigurationRequest_Mode
	switch modeName {
	case "auto":
		mode = machine.ApplyConfigurationRequest_AUTO
	case "no-reboot":
		mode = machine.ApplyConfigurationRequest_NO_REBOOT
	case "reboot":
		mode = machine.ApplyConfigurationRequest_REBOOT
	case "staged":
		mode = machine.ApplyConfigurationRequest_STAGED
	case "try":
		mode = machine.ApplyConfigurationRequest_TRY
	default:
		return nil, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be one of auto, no-reboot, reboot, staged, try", "mode")}
	}

	return func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error) {
		resp, err := cli.ApplyConfiguration(ctx, &machine.ApplyConfigurationRequest{
			Data:   []byte(document),
			Mode:   mode,
			DryRun: dryRun,
		})
		if err != nil {
			return nil, err
		}
		status := ApplyConfigurationStatus{Mode: modeName}
		if len(resp.Messages) > 0 {
			msg := resp.Messages[0]
			if err := nodeError(msg.Metadata); err != nil {
				return nil, err
			}
			status.Warnings = msg.Warnings
			status.ModeDetails = msg.ModeDetails
		}
		return status, nil
	}, nil
}
