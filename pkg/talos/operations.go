package talos

import (
	"context"
	"fmt"
	"math"

	"github.com/siderolabs/talos/pkg/machinery/api/machine"
)

// Operation identifies one entry of the closed operation catalog.
type Operation string

const (
	OpVersion            Operation = "version"
	OpContainers         Operation = "containers"
	OpStats              Operation = "stats"
	OpServices           Operation = "services"
	OpLogs               Operation = "logs"
	OpReboot             Operation = "reboot"
	OpApplyConfiguration Operation = "apply-configuration"
	OpKubeconfig         Operation = "kubeconfig"
	OpEtcdStatus         Operation = "etcd-status"
	OpEtcdMembers        Operation = "etcd-members"
)

// callFunc issues one remote call over a borrowed channel and shapes the
// reply into the operation's payload type.
type callFunc func(ctx context.Context, endpoint string, cli machine.MachineServiceClient) (any, error)

// operationSpec declares one catalog entry: whether the operation defaults
// to a cluster-wide fan-out or demands an explicit target, and how its
// argument mapping is validated into a typed call.
type operationSpec struct {
	// TargetMandatory operations (reboot, apply-configuration) must never
	// silently apply to more than the caller's explicitly named node.
	TargetMandatory bool
	ReadOnly        bool
	build           func(args Args) (callFunc, *Error)
}

// catalog is the closed operation set. Dispatch is a static table lookup,
// never a dynamic string-keyed registry.
var catalog = map[Operation]operationSpec{
	OpVersion:            {ReadOnly: true, build: buildVersionCall},
	OpContainers:         {ReadOnly: true, build: buildContainersCall},
	OpStats:              {ReadOnly: true, build: buildStatsCall},
	OpServices:           {ReadOnly: true, build: buildServicesCall},
	OpLogs:               {ReadOnly: true, build: buildLogsCall},
	OpReboot:             {TargetMandatory: true, build: buildRebootCall},
	OpApplyConfiguration: {TargetMandatory: true, build: buildApplyConfigurationCall},
	OpKubeconfig:         {ReadOnly: true, build: buildKubeconfigCall},
	OpEtcdStatus:         {ReadOnly: true, build: buildEtcdStatusCall},
	OpEtcdMembers:        {ReadOnly: true, build: buildEtcdMembersCall},
}

// Operations returns the catalog's operation names, unordered.
func Operations() []Operation {
	ops := make([]Operation, 0, len(catalog))
	for op := range catalog {
		ops = append(ops, op)
	}
	return ops
}

// IsTargetMandatory reports whether op demands an explicit target list.
// Unknown operations report false; Do rejects them separately.
func IsTargetMandatory(op Operation) bool {
	return catalog[op].TargetMandatory
}

// Args is the argument mapping of one operation request, string keys to
// primitive values as delivered by the tool-invocation layer.
type Args map[string]any

func (a Args) stringOr(key, fallback string) (string, *Error) {
	value, ok := a[key]
	if !ok || value == nil {
		return fallback, nil
	}
	str, ok := value.(string)
	if !ok {
		return "", &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be a string, got %T", key, value)}
	}
	// The tool layer forwards omitted optional arguments as empty strings,
	// an empty value selects the fallback.
	if str == "" {
		return fallback, nil
	}
	return str, nil
}

func (a Args) requiredString(key string) (string, *Error) {
	value, ok := a[key]
	if !ok || value == nil {
		return "", &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q is required", key)}
	}
	str, ok := value.(string)
	if !ok || str == "" {
		return "", &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be a non-empty string", key)}
	}
	return str, nil
}

func (a Args) boolOr(key string, fallback bool) (bool, *Error) {
	value, ok := a[key]
	if !ok || value == nil {
		return fallback, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be a boolean, got %T", key, value)}
	}
	return b, nil
}

// intOr accepts float64 (JSON numbers), int and int64.
func (a Args) intOr(key string, fallback int64) (int64, *Error) {
	value, ok := a[key]
	if !ok || value == nil {
		return fallback, nil
	}
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be an integer", key)}
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, &Error{Code: ErrorCodeInvalidArgument, Message: fmt.Sprintf("argument %q must be an integer, got %T", key, value)}
	}
}
