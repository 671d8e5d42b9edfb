package talos

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"k8s.io/klog/v2"
)

const (
	// ContextProviderTalosconfig exposes every context of the talosconfig
	// file as a selectable target.
	ContextProviderTalosconfig = "talosconfig"
	// ContextProviderSingle pins the server to one context; tools carry no
	// target selection parameter.
	ContextProviderSingle = "single"

	// TalosconfigTargetParameterName is the tool parameter used to select
	// a context with the talosconfig provider strategy.
	TalosconfigTargetParameterName = "context"
)

// McpReload is invoked by providers when their target set changed and the
// MCP server should republish its tools.
type McpReload func() error

// ProviderConfig carries the provider-relevant settings from the static
// configuration.
type ProviderConfig struct {
	// TalosconfigPath overrides the default talosconfig location.
	TalosconfigPath string
	// ContextName pins the default context, empty for the document default.
	ContextName string
	// AllowInsecure permits contexts without TLS material.
	AllowInsecure bool
	// ClientOptions are applied to every constructed Client.
	ClientOptions []Option
}

// Provider exposes credential contexts as MCP targets and owns the Client
// for each of them.
type Provider interface {
	GetTargets(ctx context.Context) ([]string, error)
	// GetClient returns the Client for target (empty selects the default).
	GetClient(ctx context.Context, target string) (*Client, error)
	GetDefaultTarget() string
	// GetTargetParameterName returns the tool parameter used for target
	// selection, empty when the provider has a single fixed target.
	GetTargetParameterName() string
	WatchTargets(McpReload)
	Close()
}

// ProviderFactory creates a Provider for one strategy.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

var providerFactories = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory for a strategy name,
// called from init functions in provider implementation files. Panics when
// a factory is already registered for the strategy.
func RegisterProvider(strategy string, factory ProviderFactory) {
	if _, exists := providerFactories[strategy]; exists {
		panic(fmt.Sprintf("provider already registered for strategy '%s'", strategy))
	}
	providerFactories[strategy] = factory
}

// RegisteredStrategies returns the registered strategy names, sorted.
func RegisteredStrategies() []string {
	strategies := make([]string, 0, len(providerFactories))
	for strategy := range providerFactories {
		strategies = append(strategies, strategy)
	}
	sort.Strings(strategies)
	return strategies
}

// NewProvider builds the provider for the given strategy; an empty
// strategy selects the talosconfig provider.
func NewProvider(strategy string, cfg ProviderConfig) (Provider, error) {
	if strategy == "" {
		strategy = ContextProviderTalosconfig
	}
	factory, ok := providerFactories[strategy]
	if !ok {
		return nil, fmt.Errorf("no provider registered for strategy '%s', available strategies: %v", strategy, RegisteredStrategies())
	}
	return factory(cfg)
}

// talosconfigProvider exposes every context of the talosconfig file,
// lazily constructing one Client per context.
type talosconfigProvider struct {
	cfg  ProviderConfig
	path string

	mu             sync.Mutex
	config         *Config
	defaultContext string
	clients        map[string]*Client

	watcher *talosconfigWatcher
}

var _ Provider = (*talosconfigProvider)(nil)

func init() {
	RegisterProvider(ContextProviderTalosconfig, newTalosconfigProvider)
	RegisterProvider(ContextProviderSingle, newSingleContextProvider)
}

func newTalosconfigProvider(cfg ProviderConfig) (Provider, error) {
	path := cfg.TalosconfigPath
	if path == "" {
		path = DefaultPath()
	}
	p := &talosconfigProvider{
		cfg:     cfg,
		path:    path,
		clients: make(map[string]*Client),
		watcher: newTalosconfigWatcher(path),
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *talosconfigProvider) load() error {
	config, err := Load(p.path)
	if err != nil {
		return err
	}
	defaultContext, err := config.Context(p.cfg.ContextName)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		client.Close()
	}
	p.clients = make(map[string]*Client)
	p.config = config
	p.defaultContext = defaultContext.Name
	return nil
}

func (p *talosconfigProvider) GetTargets(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.ContextNames(), nil
}

func (p *talosconfigProvider) GetClient(_ context.Context, target string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target == "" {
		target = p.defaultContext
	}
	if client, ok := p.clients[target]; ok {
		return client, nil
	}
	options := p.cfg.ClientOptions
	if p.cfg.AllowInsecure {
		options = append(options, WithAllowInsecure(true))
	}
	client, err := NewClient(p.config, target, options...)
	if err != nil {
		return nil, err
	}
	p.clients[target] = client
	return client, nil
}

func (p *talosconfigProvider) GetDefaultTarget() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultContext
}

func (p *talosconfigProvider) GetTargetParameterName() string {
	return TalosconfigTargetParameterName
}

func (p *talosconfigProvider) WatchTargets(reload McpReload) {
	p.watcher.Watch(func() error {
		if err := p.load(); err != nil {
			klog.Errorf("failed to reload talosconfig %s: %v", p.path, err)
			return err
		}
		return reload()
	})
}

func (p *talosconfigProvider) Close() {
	_ = p.watcher.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		client.Close()
	}
	p.clients = make(map[string]*Client)
}

// singleContextProvider pins the server to one context. Used when context
// switching is disabled; tools carry no target parameter.
type singleContextProvider struct {
	client  *Client
	context string
	watcher *talosconfigWatcher
}

var _ Provider = (*singleContextProvider)(nil)

func newSingleContextProvider(cfg ProviderConfig) (Provider, error) {
	path := cfg.TalosconfigPath
	if path == "" {
		path = DefaultPath()
	}
	config, err := Load(path)
	if err != nil {
		return nil, err
	}
	options := cfg.ClientOptions
	if cfg.AllowInsecure {
		options = append(options, WithAllowInsecure(true))
	}
	client, err := NewClient(config, cfg.ContextName, options...)
	if err != nil {
		return nil, err
	}
	return &singleContextProvider{
		client:  client,
		context: client.ContextName(),
		watcher: newTalosconfigWatcher(path),
	}, nil
}

func (p *singleContextProvider) GetTargets(context.Context) ([]string, error) {
	return []string{""}, nil
}

func (p *singleContextProvider) GetClient(_ context.Context, target string) (*Client, error) {
	if target != "" && target != p.context {
		return nil, fmt.Errorf("unable to get client for another context with the %s strategy", ContextProviderSingle)
	}
	return p.client, nil
}

func (p *singleContextProvider) GetDefaultTarget() string {
	return ""
}

func (p *singleContextProvider) GetTargetParameterName() string {
	return ""
}

func (p *singleContextProvider) WatchTargets(reload McpReload) {
	p.watcher.Watch(reload)
}

func (p *singleContextProvider) Close() {
	_ = p.watcher.Close()
	p.client.Close()
}
