package config

// providerConfigRegistry holds the parsers for strategy-specific
// configuration sections under [context_provider_configs].
var providerConfigRegistry = newExtendedConfigRegistry()

// RegisterProviderConfig registers a parser for the configuration section of
// a context provider strategy. Called from init functions; panics on
// duplicate registration.
func RegisterProviderConfig(strategy string, parser ExtendedConfigParser) {
	providerConfigRegistry.register(strategy, parser)
}
