package talos

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Run("IsCode matches wrapped errors", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NewConfigError("broken"))
		assert.True(t, IsCode(err, ErrorCodeConfig))
		assert.False(t, IsCode(err, ErrorCodeConnection))
	})
	t.Run("IsCode is false for plain errors", func(t *testing.T) {
		assert.False(t, IsCode(errors.New("plain"), ErrorCodeConfig))
		assert.False(t, IsCode(nil, ErrorCodeConfig))
	})
	t.Run("Error exposes its cause", func(t *testing.T) {
		cause := errors.New("dial tcp: connection refused")
		err := NewConnectionError("10.5.0.2:50000", cause)
		assert.ErrorIs(t, err, cause)
	})
	t.Run("PartialFailure names every failed endpoint", func(t *testing.T) {
		err := &PartialFailure{
			Operation: OpVersion,
			Failed:    map[string]*Error{"10.5.0.3:50000": NewConnectionError("10.5.0.3:50000", errors.New("refused"))},
			Succeeded: []string{"10.5.0.2:50000"},
		}
		assert.Contains(t, err.Error(), "1 of 2 targets failed")
		assert.Contains(t, err.Error(), "10.5.0.3:50000")
		assert.True(t, IsCode(err, ErrorCodePartialFailure))
	})
}

func TestClassifyCallError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"unavailable is a transport fault", status.Error(codes.Unavailable, "connection refused"), ErrorCodeConnection},
		{"transport cancellation is a transport fault", status.Error(codes.Canceled, "transport closing"), ErrorCodeConnection},
		{"unauthenticated is an authentication failure", status.Error(codes.Unauthenticated, "bad certificate"), ErrorCodeAuthentication},
		{"permission denied is an authentication failure", status.Error(codes.PermissionDenied, "not allowed"), ErrorCodeAuthentication},
		{"grpc deadline is a timeout", status.Error(codes.DeadlineExceeded, "deadline exceeded"), ErrorCodeTimeout},
		{"local deadline is a timeout", context.DeadlineExceeded, ErrorCodeTimeout},
		{"invalid argument passes through", status.Error(codes.InvalidArgument, "bad request"), ErrorCodeInvalidArgument},
		{"other grpc codes are remote failures", status.Error(codes.Internal, "boom"), ErrorCodeRemoteOperation},
		{"unclassifiable errors are remote failures", errors.New("something unexpected"), ErrorCodeRemoteOperation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyCallError(OpVersion, "10.5.0.2:50000", tc.err)
			assert.Equal(t, tc.code, classified.Code)
			assert.Equal(t, OpVersion, classified.Operation)
			assert.Equal(t, "10.5.0.2:50000", classified.Endpoint)
		})
	}
	t.Run("already classified errors keep their code", func(t *testing.T) {
		classified := classifyCallError(OpVersion, "10.5.0.2:50000", NewConfigError("bad material"))
		assert.Equal(t, ErrorCodeConfig, classified.Code)
		assert.Equal(t, OpVersion, classified.Operation, "operation attribution is filled in")
	})
}
