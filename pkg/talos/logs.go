package talos

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/siderolabs/talos/pkg/machinery/api/common"
	"github.com/siderolabs/talos/pkg/machinery/api/machine"
)

// LogStreamRequest describes a continuous log tail against one endpoint.
type LogStreamRequest struct {
	Endpoint  string
	Service   string
	Namespace string
	TailLines int64
	// Follow keeps the stream open after the tail; otherwise the remote
	// side closes it once the tail is delivered.
	Follow bool
	// InactivityTimeout ends a follow stream that produced no chunk for
	// the given duration. Zero disables the timeout.
	InactivityTimeout time.Duration
}

// LogChunk is one element of a log stream sequence.
type LogChunk struct {
	Endpoint string
	Bytes    []byte
}

// LogStream is a lazy, pull-based sequence of log chunks from one target.
// The remote call starts on the first Recv. The sequence ends with io.EOF
// when the remote side closes the stream; a mid-stream transport fault ends
// it with a classified terminal error instead of silently truncating. A
// fresh stream for the same request restarts the sequence.
type LogStream struct {
	client *Client
	req    LogStreamRequest

	mu      sync.Mutex
	started bool
	stream  machine.MachineService_LogsClient
	cancel  context.CancelFunc
	err     error
}

// LogStream builds a log stream for req. Validation and connection happen
// lazily on the first Recv.
func (c *Client) LogStream(req LogStreamRequest) *LogStream {
	return &LogStream{client: c, req: req}
}

func (s *LogStream) start(ctx context.Context) error {
	if s.req.Endpoint == "" {
		return NewMissingTargetError(OpLogs)
	}
	if s.req.Service == "" {
		return NewInvalidArgumentError(OpLogs, "service", "is required")
	}
	namespace := s.req.Namespace
	if namespace == "" {
		namespace = "system"
	}
	endpoint := withDefaultPort(s.req.Endpoint)

	ch, err := s.client.pool.acquire(ctx, endpoint)
	if err != nil {
		return classifyCallError(OpLogs, endpoint, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := machine.NewMachineServiceClient(ch.conn).Logs(streamCtx, &machine.LogsRequest{
		Namespace: namespace,
		Id:        s.req.Service,
		Follow:    s.req.Follow,
		TailLines: int32(s.req.TailLines),
	})
	if err != nil {
		cancel()
		s.client.pool.invalidate(endpoint, ch)
		return classifyCallError(OpLogs, endpoint, err)
	}

	s.stream = stream
	s.cancel = cancel
	s.started = true
	return nil
}

// Recv returns the next chunk. It returns io.EOF when the remote side
// closed the stream, and a taxonomy error as the terminal element after a
// transport fault or inactivity timeout. After any non-nil error the
// sequence is over.
func (s *LogStream) Recv(ctx context.Context) (*LogChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if !s.started {
		if err := s.start(ctx); err != nil {
			s.err = err
			return nil, err
		}
	}

	data, err := s.recvWithInactivityTimeout(ctx)
	if err != nil {
		s.terminate(err)
		return nil, s.err
	}
	if err := nodeError(data.Metadata); err != nil {
		s.terminate(err)
		return nil, s.err
	}
	return &LogChunk{Endpoint: withDefaultPort(s.req.Endpoint), Bytes: data.Bytes}, nil
}

func (s *LogStream) recvWithInactivityTimeout(ctx context.Context) (*common.Data, error) {
	type recvResult struct {
		data *common.Data
		err  error
	}
	if s.req.InactivityTimeout <= 0 {
		return s.stream.Recv()
	}

	results := make(chan recvResult, 1)
	go func() {
		data, err := s.stream.Recv()
		results <- recvResult{data: data, err: err}
	}()

	timer := time.NewTimer(s.req.InactivityTimeout)
	defer timer.Stop()
	select {
	case result := <-results:
		return result.data, result.err
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// terminate records the terminal element of the sequence.
func (s *LogStream) terminate(err error) {
	if s.cancel != nil {
		s.cancel()
	}
	if err == io.EOF {
		s.err = io.EOF
		return
	}
	if errors.Is(err, context.Canceled) {
		// Caller-driven cancellation is not a fault of the sequence.
		s.err = err
		return
	}
	s.err = classifyCallError(OpLogs, withDefaultPort(s.req.Endpoint), err)
}

// Close stops the stream. Idempotent; a closed stream reports io.EOF from
// subsequent Recv calls.
func (s *LogStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.err == nil {
		s.err = io.EOF
	}
}
