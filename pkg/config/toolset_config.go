package config

// toolsetConfigRegistry holds the parsers for toolset-specific
// configuration sections under [toolset_configs].
var toolsetConfigRegistry = newExtendedConfigRegistry()

// RegisterToolsetConfig registers a parser for the configuration section of
// a toolset. Called from init functions; panics on duplicate registration.
func RegisterToolsetConfig(name string, parser ExtendedConfigParser) {
	toolsetConfigRegistry.register(name, parser)
}
