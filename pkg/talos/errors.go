package talos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode categorizes every failure the client layer can produce.
// The set is closed: no error leaves this package unclassified.
type ErrorCode string

const (
	// ErrorCodeConfig marks credential document problems: unreadable file,
	// malformed YAML, missing endpoints, partial or undecodable TLS material,
	// unknown context names.
	ErrorCodeConfig ErrorCode = "CONFIG"
	// ErrorCodeConnection marks transport-level faults: dial failures,
	// TLS handshake failures, connection resets. Retried exactly once.
	ErrorCodeConnection ErrorCode = "CONNECTION"
	// ErrorCodeAuthentication marks credential rejection by the remote side.
	// Never retried.
	ErrorCodeAuthentication ErrorCode = "AUTHENTICATION"
	// ErrorCodeTimeout marks expiry of the per-call budget.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeUnknownOperation marks an operation name outside the catalog.
	ErrorCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"
	// ErrorCodeInvalidArgument marks an argument violating the operation's
	// declared shape, locally or as reported by the remote side.
	ErrorCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrorCodeMissingTarget marks a target-mandatory operation invoked
	// without an explicit target.
	ErrorCodeMissingTarget ErrorCode = "MISSING_TARGET"
	// ErrorCodeRemoteOperation marks a request the remote side accepted in
	// shape but refused to execute, carrying the remote-provided reason.
	ErrorCodeRemoteOperation ErrorCode = "REMOTE_OPERATION"
	// ErrorCodePartialFailure marks a fan-out where some but not all
	// targets failed.
	ErrorCodePartialFailure ErrorCode = "PARTIAL_FAILURE"
)

// Error is the classified failure type for a single call or load step.
// Operation and Endpoint are set when applicable so every failure names
// what was attempted and where. Credential material never appears here.
type Error struct {
	Code      ErrorCode
	Operation Operation
	Endpoint  string
	Message   string
	cause     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Operation != "" {
		sb.WriteString(string(e.Operation))
		sb.WriteString(": ")
	}
	sb.WriteString(string(e.Code))
	if e.Endpoint != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Endpoint)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorCode implements the coded interface used by IsCode.
func (e *Error) ErrorCode() ErrorCode {
	return e.Code
}

// WithOperation returns a copy of the error attributed to op, leaving the
// original untouched. Used by the dispatcher to attribute pool and config
// errors to the call that hit them.
func (e *Error) WithOperation(op Operation) *Error {
	clone := *e
	clone.Operation = op
	return &clone
}

type coded interface {
	ErrorCode() ErrorCode
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode() == code
	}
	return false
}

func newError(code ErrorCode, op Operation, endpoint, message string, cause error) *Error {
	return &Error{Code: code, Operation: op, Endpoint: endpoint, Message: message, cause: cause}
}

// NewConfigError builds a CONFIG error for credential document problems.
func NewConfigError(format string, args ...any) *Error {
	return newError(ErrorCodeConfig, "", "", fmt.Sprintf(format, args...), nil)
}

// NewConnectionError builds a CONNECTION error for endpoint.
func NewConnectionError(endpoint string, cause error) *Error {
	return newError(ErrorCodeConnection, "", endpoint, cause.Error(), cause)
}

// NewUnknownOperationError builds an UNKNOWN_OPERATION error for name.
func NewUnknownOperationError(name string) *Error {
	return newError(ErrorCodeUnknownOperation, Operation(name), "", fmt.Sprintf("operation %q is not part of the catalog", name), nil)
}

// NewInvalidArgumentError builds an INVALID_ARGUMENT error naming the field.
func NewInvalidArgumentError(op Operation, field, reason string) *Error {
	return newError(ErrorCodeInvalidArgument, op, "", fmt.Sprintf("argument %q %s", field, reason), nil)
}

// NewMissingTargetError builds a MISSING_TARGET error for op.
func NewMissingTargetError(op Operation) *Error {
	return newError(ErrorCodeMissingTarget, op, "", "operation requires an explicit target endpoint and must not apply cluster-wide", nil)
}

// PartialFailure is the aggregate outcome of a fan-out where at least one
// but not all targets failed. It is returned alongside the Result so the
// caller can act on the successful subset.
type PartialFailure struct {
	Operation Operation
	// Failed maps each failed endpoint to its classified error.
	Failed map[string]*Error
	// Succeeded lists the endpoints that completed, sorted.
	Succeeded []string
}

func (e *PartialFailure) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for endpoint := range e.Failed {
		failed = append(failed, endpoint)
	}
	sort.Strings(failed)
	return fmt.Sprintf("%s: %s: %d of %d targets failed (%s)",
		e.Operation, ErrorCodePartialFailure, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(failed, ", "))
}

// ErrorCode implements the coded interface used by IsCode.
func (e *PartialFailure) ErrorCode() ErrorCode {
	return ErrorCodePartialFailure
}

// classifyCallError maps one remote call failure to the taxonomy.
// Transport faults (gRPC Unavailable, dial and handshake errors) become
// CONNECTION and are the only class the retry policy acts on.
func classifyCallError(op Operation, endpoint string, err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		if classified.Operation == "" || classified.Endpoint == "" {
			clone := *classified
			if clone.Operation == "" {
				clone.Operation = op
			}
			if clone.Endpoint == "" {
				clone.Endpoint = endpoint
			}
			return &clone
		}
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorCodeTimeout, op, endpoint, "call exceeded the per-call budget", err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return newError(ErrorCodeAuthentication, op, endpoint, st.Message(), err)
		case codes.DeadlineExceeded:
			return newError(ErrorCodeTimeout, op, endpoint, "call exceeded the per-call budget", err)
		case codes.Unavailable:
			return newError(ErrorCodeConnection, op, endpoint, st.Message(), err)
		case codes.InvalidArgument:
			return newError(ErrorCodeInvalidArgument, op, endpoint, st.Message(), err)
		case codes.Canceled:
			return newError(ErrorCodeConnection, op, endpoint, "call canceled by transport", err)
		default:
			return newError(ErrorCodeRemoteOperation, op, endpoint, st.Message(), err)
		}
	}

	return newError(ErrorCodeRemoteOperation, op, endpoint, err.Error(), err)
}
