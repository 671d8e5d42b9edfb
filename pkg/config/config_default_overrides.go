package config

func defaultOverrides() StaticConfig {
	return StaticConfig{
		// IMPORTANT: this file is used to override default config values in downstream builds.
		// Control plane defaults: add the etcd toolset
		Toolsets: []string{"machine", "config", "etcd"},
	}
}
