// Package talos implements the client core of the MCP server: it parses
// talosconfig credential documents, maintains one secure gRPC channel per
// (context, endpoint) pair, dispatches the closed operation catalog with
// per-call target selection and fan-out, and normalizes every failure into
// a closed error taxonomy.
package talos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/siderolabs/talos/pkg/machinery/api/machine"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

const (
	// DefaultCallTimeout bounds a single remote call, distinct from and
	// much shorter than the caller's session lifetime.
	DefaultCallTimeout = 30 * time.Second
	// DefaultDialTimeout bounds channel setup including the TLS handshake.
	DefaultDialTimeout = 10 * time.Second
)

// Client dispatches operations against the nodes of one immutable context.
// It is safe for concurrent use; the channel pool is shared across
// concurrent invocations.
type Client struct {
	config  *Config
	context *Context
	pool    *channelPool

	callTimeout time.Duration
	retry       retryPolicy
}

type clientOptions struct {
	callTimeout   time.Duration
	dialTimeout   time.Duration
	allowInsecure bool
	dialOptions   []grpc.DialOption
}

// Option configures a Client at construction time.
type Option func(*clientOptions)

// WithCallTimeout sets the per-call budget.
func WithCallTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.callTimeout = d }
}

// WithDialTimeout sets the channel setup budget.
func WithDialTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// WithAllowInsecure permits plaintext transport for contexts that carry no
// TLS material. Off by default.
func WithAllowInsecure(allow bool) Option {
	return func(o *clientOptions) { o.allowInsecure = allow }
}

// WithDialOptions appends extra gRPC dial options, used by tests to point
// channels at in-process listeners.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *clientOptions) { o.dialOptions = append(o.dialOptions, opts...) }
}

// NewClient selects contextName (empty selects the document default) and
// returns a Client bound to it for the life of the process. No ambient
// selected-context state: the selection is fixed here.
func NewClient(cfg *Config, contextName string, opts ...Option) (*Client, error) {
	options := clientOptions{
		callTimeout: DefaultCallTimeout,
		dialTimeout: DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	selected, err := cfg.Context(contextName)
	if err != nil {
		return nil, err
	}

	return &Client{
		config:      cfg,
		context:     selected,
		pool:        newChannelPool(selected, options.dialTimeout, options.allowInsecure, options.dialOptions),
		callTimeout: options.callTimeout,
		retry:       retryPolicy{maxRetries: 1},
	}, nil
}

// ContextName returns the name of the selected context.
func (c *Client) ContextName() string {
	return c.context.Name
}

// Config returns the talosconfig document the client was built from.
func (c *Client) Config() *Config {
	return c.config
}

// Endpoints returns the endpoint addresses of the selected context.
func (c *Client) Endpoints() []string {
	return append([]string(nil), c.context.Endpoints...)
}

// Close tears down all channels. The client must not be used afterwards.
func (c *Client) Close() {
	c.pool.Close()
}

// Request is one ephemeral operation invocation.
type Request struct {
	Operation Operation
	Args      Args
	// Targets restricts the call to explicit endpoints. Empty means all
	// endpoints of the context for read-only operations; target-mandatory
	// operations reject an empty list outright.
	Targets []string
}

// NodeResult is the outcome for a single target: payload or classified
// error, never both.
type NodeResult struct {
	Endpoint string
	Payload  any
	Err      *Error
}

// Result is keyed by target endpoint and always carries exactly one entry
// per resolved target; a node is never silently dropped. Keying is by
// target, not completion order.
type Result struct {
	Operation Operation
	Nodes     map[string]NodeResult
}

// Succeeded returns the endpoints that completed, sorted.
func (r *Result) Succeeded() []string {
	endpoints := make([]string, 0, len(r.Nodes))
	for endpoint, node := range r.Nodes {
		if node.Err == nil {
			endpoints = append(endpoints, endpoint)
		}
	}
	sort.Strings(endpoints)
	return endpoints
}

// Failed returns the endpoints that failed, sorted.
func (r *Result) Failed() []string {
	endpoints := make([]string, 0)
	for endpoint, node := range r.Nodes {
		if node.Err != nil {
			endpoints = append(endpoints, endpoint)
		}
	}
	sort.Strings(endpoints)
	return endpoints
}

// retryPolicy is the single retry gate applied uniformly by the
// dispatcher: bounded attempts, classified-error gate. Connection and
// timeout faults are transient and qualify; retrying an application
// rejection or an authentication failure cannot change the outcome
// locally.
type retryPolicy struct {
	maxRetries int
}

func (p retryPolicy) shouldRetry(err *Error, attempt int) bool {
	transient := err.Code == ErrorCodeConnection || err.Code == ErrorCodeTimeout
	return transient && attempt < p.maxRetries
}

// Do validates and dispatches one operation request.
//
// The returned error is nil when every target succeeded, a *PartialFailure
// when some but not all targets of a fan-out failed (the Result still holds
// every per-node outcome), and a classified *Error otherwise. Caller
// cancellation aborts all in-flight per-target calls and yields the context
// error with no partial Result.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	spec, ok := catalog[req.Operation]
	if !ok {
		return nil, NewUnknownOperationError(string(req.Operation))
	}

	call, argErr := spec.build(req.Args)
	if argErr != nil {
		return nil, argErr.WithOperation(req.Operation)
	}

	targets, err := c.resolveTargets(req)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Operation: req.Operation,
		Nodes:     make(map[string]NodeResult, len(targets)),
	}

	// All targets run concurrently and are all joined before returning:
	// fan-out latency is bounded by the slowest target, and the failure of
	// one target never cancels the others.
	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	for _, target := range targets {
		endpoint := target
		group.Go(func() error {
			payload, callErr := c.call(ctx, req.Operation, endpoint, call)
			mu.Lock()
			result.Nodes[endpoint] = NodeResult{Endpoint: endpoint, Payload: payload, Err: callErr}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	// Cancellation is all-or-nothing at the invocation boundary: completed
	// per-target results are discarded, unlike natural partial failure.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return result, c.aggregate(result, targets)
}

// resolveTargets applies the target policy: explicit targets win; read-only
// operations default to every endpoint of the context; target-mandatory
// operations without an explicit target fail before any remote call is
// issued, never defaulting to the first endpoint.
func (c *Client) resolveTargets(req Request) ([]string, error) {
	if len(req.Targets) > 0 {
		targets := make([]string, 0, len(req.Targets))
		seen := make(map[string]bool, len(req.Targets))
		for _, target := range req.Targets {
			if target == "" {
				return nil, NewInvalidArgumentError(req.Operation, "targets", "must not contain an empty endpoint")
			}
			endpoint := withDefaultPort(target)
			if !seen[endpoint] {
				seen[endpoint] = true
				targets = append(targets, endpoint)
			}
		}
		return targets, nil
	}
	if catalog[req.Operation].TargetMandatory {
		return nil, NewMissingTargetError(req.Operation)
	}
	return c.Endpoints(), nil
}

// call issues the remote call against one endpoint, retrying exactly once
// with a fresh channel after a connection fault or a per-call timeout.
func (c *Client) call(ctx context.Context, op Operation, endpoint string, fn callFunc) (any, *Error) {
	for attempt := 0; ; attempt++ {
		ch, err := c.pool.acquire(ctx, endpoint)
		if err != nil {
			classified := classifyCallError(op, endpoint, err)
			if ctx.Err() != nil || !c.retry.shouldRetry(classified, attempt) {
				return nil, classified
			}
			klog.V(3).Infof("%s: channel to %s failed, retrying with a fresh channel: %v", op, endpoint, classified.Message)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		payload, callErr := fn(callCtx, endpoint, machine.NewMachineServiceClient(ch.conn))
		cancel()
		if callErr == nil {
			return payload, nil
		}

		classified := classifyCallError(op, endpoint, callErr)
		if classified.Code == ErrorCodeConnection || classified.Code == ErrorCodeTimeout {
			// Transient fault: the channel must be rebuilt before the next
			// attempt reuses it.
			c.pool.invalidate(endpoint, ch)
		}
		if ctx.Err() != nil || !c.retry.shouldRetry(classified, attempt) {
			return nil, classified
		}
		klog.V(3).Infof("%s: call to %s failed with a transient fault, retrying once: %v", op, endpoint, classified.Message)
	}
}

// aggregate shapes the overall outcome: success, PartialFailure, or the
// first target's classified error when every target failed.
func (c *Client) aggregate(result *Result, targets []string) error {
	failed := make(map[string]*Error)
	succeeded := make([]string, 0, len(targets))
	for endpoint, node := range result.Nodes {
		if node.Err != nil {
			failed[endpoint] = node.Err
		} else {
			succeeded = append(succeeded, endpoint)
		}
	}
	sort.Strings(succeeded)

	switch {
	case len(failed) == 0:
		return nil
	case len(failed) == len(targets):
		ordered := result.Failed()
		return failed[ordered[0]]
	default:
		return &PartialFailure{
			Operation: result.Operation,
			Failed:    failed,
			Succeeded: succeeded,
		}
	}
}

// Version queries the Talos version of the given endpoints (all context
// endpoints when none are given).
func (c *Client) Version(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpVersion, Targets: endpoints})
}

// Containers lists containers in namespace via the given runtime driver
// ("containerd" or "cri").
func (c *Client) Containers(ctx context.Context, namespace, driver string, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpContainers, Args: Args{"namespace": namespace, "driver": driver}, Targets: endpoints})
}

// Stats gathers CPU, load and memory statistics.
func (c *Client) Stats(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpStats, Targets: endpoints})
}

// Services lists the supervised services and their health.
func (c *Client) Services(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpServices, Targets: endpoints})
}

// ServiceLogs retrieves a bounded log tail for service.
func (c *Client) ServiceLogs(ctx context.Context, service string, tailLines int64, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpLogs, Args: Args{"service": service, "tail_lines": tailLines}, Targets: endpoints})
}

// Reboot reboots exactly the given endpoint. mode is "default" or
// "powercycle".
func (c *Client) Reboot(ctx context.Context, endpoint, mode string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpReboot, Args: Args{"mode": mode}, Targets: []string{endpoint}})
}

// ApplyConfiguration applies a machine configuration document to exactly
// the given endpoint.
func (c *Client) ApplyConfiguration(ctx context.Context, endpoint, document, mode string, dryRun bool) (*Result, error) {
	return c.Do(ctx, Request{
		Operation: OpApplyConfiguration,
		Args:      Args{"config": document, "mode": mode, "dry_run": dryRun},
		Targets:   []string{endpoint},
	})
}

// Kubeconfig retrieves the admin kubeconfig from a control plane node.
func (c *Client) Kubeconfig(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpKubeconfig, Targets: endpoints})
}

// EtcdStatus reports per-member etcd health.
func (c *Client) EtcdStatus(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpEtcdStatus, Targets: endpoints})
}

// EtcdMembers lists the etcd cluster members.
func (c *Client) EtcdMembers(ctx context.Context, endpoints ...string) (*Result, error) {
	return c.Do(ctx, Request{Operation: OpEtcdMembers, Targets: endpoints})
}
