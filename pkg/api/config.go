package api

type AuthProvider interface {
	// IsRequireOAuth indicates whether OAuth authentication is required.
	IsRequireOAuth() bool
}

type ContextProvider interface {
	// GetContextProviderStrategy returns the context provider strategy (if configured).
	GetContextProviderStrategy() string
	// GetTalosconfigPath returns the path to the talosconfig file (if configured).
	GetTalosconfigPath() string
}

// ExtendedConfig is the interface that all configuration extensions must implement.
// Each extended config manager registers a factory function to parse its config from TOML primitives
type ExtendedConfig interface {
	// Validate validates the extended configuration. Returns an error if the configuration is invalid.
	Validate() error
}

type ExtendedConfigProvider interface {
	// GetProviderConfig returns the extended configuration for the given provider strategy.
	// The boolean return value indicates whether the configuration was found.
	GetProviderConfig(strategy string) (ExtendedConfig, bool)
	// GetToolsetConfig returns the extended configuration for the given toolset name.
	// The boolean return value indicates whether the configuration was found.
	GetToolsetConfig(name string) (ExtendedConfig, bool)
}

type BaseConfig interface {
	AuthProvider
	ContextProvider
	ExtendedConfigProvider
}
