package mcplog

import (
	"context"
	"errors"

	"github.com/siderolabs/talos-mcp-server/pkg/talos"
)

// classifyTalosError maps a classified Talos client error to a log level and
// a client-facing message. Returns the level, message, and true if the error
// should be logged. Returns zero values and false for nil or unclassified
// errors.
func classifyTalosError(err error, operation string) (Level, string, bool) {
	if err == nil {
		return 0, "", false
	}

	var partial *talos.PartialFailure
	if errors.As(err, &partial) {
		return LevelWarning, "Some nodes failed during " + operation + " - successful results are still included", true
	}

	var classified *talos.Error
	if !errors.As(err, &classified) {
		return 0, "", false
	}

	switch classified.Code {
	case talos.ErrorCodeConfig:
		return LevelError, "Talos configuration problem - check the talosconfig file and its contexts", true
	case talos.ErrorCodeConnection:
		return LevelError, "Node unreachable - check endpoint connectivity for " + operation, true
	case talos.ErrorCodeAuthentication:
		return LevelError, "Authentication failed - check client certificate material in the talosconfig", true
	case talos.ErrorCodeTimeout:
		return LevelError, "Request timeout - node may be slow or overloaded", true
	case talos.ErrorCodeInvalidArgument:
		return LevelError, "Invalid request - check parameters for " + operation, true
	case talos.ErrorCodeMissingTarget:
		return LevelError, "Missing target node - " + operation + " requires an explicit node endpoint", true
	case talos.ErrorCodeUnknownOperation:
		return LevelError, "Unknown operation requested", true
	case talos.ErrorCodeRemoteOperation:
		return LevelError, "Node refused the request during " + operation, true
	default:
		return LevelError, "Operation failed - node may be unreachable or experiencing issues", true
	}
}

// HandleTalosError sends appropriate MCP log messages based on the Talos
// client error taxonomy. operation should describe the operation (e.g.,
// "service logs", "node reboot").
func HandleTalosError(ctx context.Context, err error, operation string) {
	if level, message, ok := classifyTalosError(err, operation); ok {
		SendMCPLog(ctx, level, message)
	}
}
