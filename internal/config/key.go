// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix OTTERSCALE_WATCH_)
//  3. Config file (config.yaml in . or /etc/otterscale-watch/)
//  4. Compiled defaults
package config

// Viper keys for server-mode configuration.
const (
	keyServerAddress            = "server.address"
	keyServerAllowedOrigins     = "server.allowed_origins"
	keyServerKubeconfig         = "server.kubeconfig"
	keyServerCacheTTL           = "server.cache.ttl"
	keyServerCacheEvictInterval = "server.cache.eviction_interval"
	keyServerBootstrapTimeout   = "server.bootstrap.timeout"
	keyServerResyncInterval     = "server.resync_interval"
)
