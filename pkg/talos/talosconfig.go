package talos

import (
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultApidPort is the port apid listens on when an endpoint address
// carries no explicit port.
const DefaultApidPort = "50000"

// Config is a parsed talosconfig credential document. It is immutable after
// Load: every context is fully validated (endpoints present, TLS material
// decoded) before the Config is handed out, so a malformed document never
// leaves a partially-initialized configuration behind.
type Config struct {
	// DefaultContext is the document's declared current context, may be empty.
	DefaultContext string
	contexts       map[string]*Context
	path           string
}

// Context is a named bundle of endpoint addresses and TLS credentials
// representing one cluster identity. The credential bytes live only in
// memory and are never logged or re-serialized.
type Context struct {
	Name      string
	Endpoints []string

	ca  []byte
	crt []byte
	key []byte
}

// Secure reports whether the context carries TLS material.
func (c *Context) Secure() bool {
	return len(c.crt) > 0
}

// talosconfigDocument mirrors the on-disk YAML shape.
type talosconfigDocument struct {
	Context  string                              `yaml:"context"`
	Contexts map[string]*talosconfigContextEntry `yaml:"contexts"`
}

type talosconfigContextEntry struct {
	Endpoints []string `yaml:"endpoints"`
	CA        string   `yaml:"ca"`
	Crt       string   `yaml:"crt"`
	Key       string   `yaml:"key"`
}

// Load reads and validates the talosconfig document at path.
// Any defect (unreadable file, malformed YAML, context without endpoints,
// partial TLS triple, undecodable base64) fails with a CONFIG error at load
// time, never as a deferred failure at call time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigError("failed to read talosconfig %s: %v", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// LoadDefault resolves the talosconfig path the way talosctl does:
// $TALOSCONFIG if set, else ~/.talos/config.
func LoadDefault() (*Config, error) {
	return Load(DefaultPath())
}

// DefaultPath returns the talosconfig path honoring the TALOSCONFIG
// environment override.
func DefaultPath() string {
	if path := os.Getenv("TALOSCONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".talos", "config")
	}
	return filepath.Join(home, ".talos", "config")
}

func parse(data []byte) (*Config, error) {
	var doc talosconfigDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigError("malformed talosconfig: %v", err)
	}
	if len(doc.Contexts) == 0 {
		return nil, NewConfigError("talosconfig defines no contexts")
	}

	cfg := &Config{
		DefaultContext: doc.Context,
		contexts:       make(map[string]*Context, len(doc.Contexts)),
	}
	for name, entry := range doc.Contexts {
		if entry == nil {
			return nil, NewConfigError("context %q is empty", name)
		}
		c, err := buildContext(name, entry)
		if err != nil {
			return nil, err
		}
		cfg.contexts[name] = c
	}
	if cfg.DefaultContext != "" {
		if _, ok := cfg.contexts[cfg.DefaultContext]; !ok {
			return nil, NewConfigError("declared default context %q is not defined", cfg.DefaultContext)
		}
	}
	return cfg, nil
}

func buildContext(name string, entry *talosconfigContextEntry) (*Context, error) {
	if len(entry.Endpoints) == 0 {
		return nil, NewConfigError("context %q has no endpoints", name)
	}
	c := &Context{Name: name, Endpoints: make([]string, 0, len(entry.Endpoints))}
	for _, endpoint := range entry.Endpoints {
		if endpoint == "" {
			return nil, NewConfigError("context %q has an empty endpoint address", name)
		}
		c.Endpoints = append(c.Endpoints, withDefaultPort(endpoint))
	}

	// The TLS triple is all-or-none. A context with a partial triple is a
	// configuration defect, not a candidate for a silent insecure fallback.
	present := 0
	for _, field := range []string{entry.CA, entry.Crt, entry.Key} {
		if field != "" {
			present++
		}
	}
	if present != 0 && present != 3 {
		return nil, NewConfigError("context %q has a partial TLS triple: ca, crt and key must be present together or all absent", name)
	}
	if present == 3 {
		var err error
		if c.ca, err = decodeTLSField(name, "ca", entry.CA); err != nil {
			return nil, err
		}
		if c.crt, err = decodeTLSField(name, "crt", entry.Crt); err != nil {
			return nil, err
		}
		if c.key, err = decodeTLSField(name, "key", entry.Key); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func decodeTLSField(context, field, value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, NewConfigError("context %q has undecodable %s material: %v", context, field, err)
	}
	return decoded, nil
}

// withDefaultPort appends the apid port to endpoints that carry none.
func withDefaultPort(endpoint string) string {
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}
	return net.JoinHostPort(endpoint, DefaultApidPort)
}

// Context selects a context by name. An empty name resolves to the
// document's declared default, or to the sole context when exactly one is
// defined; ambiguity is a CONFIG error rather than an arbitrary pick.
func (c *Config) Context(name string) (*Context, error) {
	if name == "" {
		name = c.DefaultContext
	}
	if name == "" {
		if len(c.contexts) == 1 {
			for _, only := range c.contexts {
				return only, nil
			}
		}
		return nil, NewConfigError("talosconfig declares no default context and %d contexts are defined, select one explicitly", len(c.contexts))
	}
	context, ok := c.contexts[name]
	if !ok {
		return nil, NewConfigError("context %q does not exist in talosconfig", name)
	}
	return context, nil
}

// ContextNames returns the defined context names, sorted.
func (c *Config) ContextNames() []string {
	names := make([]string, 0, len(c.contexts))
	for name := range c.contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContextView is a credential-free rendering of one context.
type ContextView struct {
	Endpoints []string `json:"endpoints"`
	Secure    bool     `json:"secure"`
}

// ConfigView is a credential-free rendering of a talosconfig document.
// TLS material never appears in it, so it is safe to return to callers.
type ConfigView struct {
	Context  string                 `json:"context,omitempty"`
	Contexts map[string]ContextView `json:"contexts"`
}

// View renders the document without credential material. With minify set,
// only the context named by contextName is kept (empty selects the
// document default).
func (c *Config) View(minify bool, contextName string) (*ConfigView, error) {
	if minify {
		selected, err := c.Context(contextName)
		if err != nil {
			return nil, err
		}
		return &ConfigView{
			Context: selected.Name,
			Contexts: map[string]ContextView{
				selected.Name: {Endpoints: append([]string(nil), selected.Endpoints...), Secure: selected.Secure()},
			},
		}, nil
	}
	view := &ConfigView{
		Context:  c.DefaultContext,
		Contexts: make(map[string]ContextView, len(c.contexts)),
	}
	for name, context := range c.contexts {
		view.Contexts[name] = ContextView{Endpoints: append([]string(nil), context.Endpoints...), Secure: context.Secure()}
	}
	return view, nil
}

// Path returns the file the Config was loaded from, empty for in-memory
// documents.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) String() string {
	return fmt.Sprintf("talosconfig{contexts: %v, default: %q}", c.ContextNames(), c.DefaultContext)
}
