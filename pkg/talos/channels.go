package talos

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"k8s.io/klog/v2"
)

// grpc.NewClient resolves the target through the DNS resolver by default;
// the passthrough prefix hands the endpoint address to the dialer verbatim.
const passthroughPrefix = "passthrough:///"

type channelState int

const (
	channelFresh channelState = iota
	channelClosed
)

// channel binds one live gRPC connection to a (context, endpoint) key.
// It is exclusively owned by the pool; the dispatcher borrows it for the
// duration of a single call and never retains it. state is guarded by the
// pool's mutex.
type channel struct {
	endpoint string
	conn     *grpc.ClientConn
	state    channelState
}

// channelPool caches one channel per endpoint for a single context,
// building lazily and rebuilding after invalidation. Acquire and invalidate
// for the same endpoint are mutually exclusive so concurrent invocations
// never race to rebuild the same degraded channel; distinct endpoints never
// block each other.
type channelPool struct {
	context       *Context
	dialTimeout   time.Duration
	allowInsecure bool
	dialOptions   []grpc.DialOption

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	channels map[string]*channel
	closed   bool
}

func newChannelPool(c *Context, dialTimeout time.Duration, allowInsecure bool, dialOptions []grpc.DialOption) *channelPool {
	return &channelPool{
		context:       c,
		dialTimeout:   dialTimeout,
		allowInsecure: allowInsecure,
		dialOptions:   dialOptions,
		locks:         make(map[string]*sync.Mutex),
		channels:      make(map[string]*channel),
	}
}

// endpointLock returns the per-endpoint mutex, creating it on first use.
func (p *channelPool) endpointLock(endpoint string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[endpoint]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[endpoint] = lock
	}
	return lock
}

// acquire returns the live channel for endpoint, building it when none is
// cached. The secure handshake completes within the bounded dial timeout
// before the channel is handed out; handshake failures surface as a
// CONNECTION error and are never retried here. Retries belong to the
// dispatcher.
func (p *channelPool) acquire(ctx context.Context, endpoint string) (*channel, error) {
	lock := p.endpointLock(endpoint)
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, NewConnectionError(endpoint, fmt.Errorf("channel pool is closed"))
	}
	if cached, ok := p.channels[endpoint]; ok && cached.state == channelFresh {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	ch, err := p.build(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.channels[endpoint] = ch
	p.mu.Unlock()
	return ch, nil
}

func (p *channelPool) build(ctx context.Context, endpoint string) (*channel, error) {
	creds, err := p.transportCredentials()
	if err != nil {
		return nil, err
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}, p.dialOptions...)

	conn, err := grpc.NewClient(passthroughPrefix+endpoint, opts...)
	if err != nil {
		return nil, NewConnectionError(endpoint, err)
	}

	if err := waitForReady(ctx, conn, p.dialTimeout); err != nil {
		_ = conn.Close()
		return nil, NewConnectionError(endpoint, err)
	}

	klog.V(4).Infof("established channel to %s (context %s)", endpoint, p.context.Name)
	return &channel{endpoint: endpoint, conn: conn, state: channelFresh}, nil
}

// waitForReady drives the connection through its initial handshake and
// blocks until it is Ready or the setup budget expires.
func waitForReady(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return fmt.Errorf("connection shut down during handshake")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("secure handshake not completed within %s", timeout)
		}
	}
}

// transportCredentials builds TLS credentials from the context's in-memory
// material. A context without material uses plaintext only when the
// deployment explicitly allows it.
func (p *channelPool) transportCredentials() (credentials.TransportCredentials, error) {
	if !p.context.Secure() {
		if !p.allowInsecure {
			return nil, NewConfigError("context %q has no TLS material and insecure transport is not allowed", p.context.Name)
		}
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.X509KeyPair(p.context.crt, p.context.key)
	if err != nil {
		return nil, NewConfigError("context %q has an inconsistent client certificate/key pair: %v", p.context.Name, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(p.context.ca) {
		return nil, NewConfigError("context %q has CA material with no usable certificate", p.context.Name)
	}
	return credentials.NewTLS(&tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}), nil
}

// invalidate tears the caller's channel down so the next acquire rebuilds
// it from scratch. The cache entry is removed only when it is still the
// channel the caller held; a replacement rebuilt by a concurrent invocation
// is left alone. Idempotent: invalidating an already-closed channel is a
// no-op.
func (p *channelPool) invalidate(endpoint string, ch *channel) {
	lock := p.endpointLock(endpoint)
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	if cached, ok := p.channels[endpoint]; ok && cached == ch {
		delete(p.channels, endpoint)
	}
	closing := ch.state != channelClosed
	if closing {
		ch.state = channelClosed
	}
	p.mu.Unlock()

	if closing {
		_ = ch.conn.Close()
		klog.V(4).Infof("invalidated channel to %s (context %s)", endpoint, p.context.Name)
	}
}

// Close tears down every cached channel. Calling Close twice is a no-op.
func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*grpc.ClientConn, 0, len(p.channels))
	for _, ch := range p.channels {
		if ch.state != channelClosed {
			ch.state = channelClosed
			conns = append(conns, ch.conn)
		}
	}
	p.channels = make(map[string]*channel)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
