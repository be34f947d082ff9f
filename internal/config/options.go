package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// ServerOptions defines the configuration entries available in server
// mode. Each entry is registered as a viper default and a CLI flag.
var ServerOptions = []Option{
	{Key: keyServerAddress, Flag: toFlag(keyServerAddress), Default: ":8299", Description: "Server listen address"},
	{Key: keyServerAllowedOrigins, Flag: toFlag(keyServerAllowedOrigins), Default: []string{}, Description: "Server allowed origins"},
	{Key: keyServerKubeconfig, Flag: toFlag(keyServerKubeconfig), Default: "", Description: "Kubeconfig whose contexts name the watchable clusters (default: $KUBECONFIG or ~/.kube/config)"},
	{Key: keyServerCacheTTL, Flag: toFlag(keyServerCacheTTL), Default: 10 * time.Minute, Description: "Idle time after which an unwatched collection is evicted"},
	{Key: keyServerCacheEvictInterval, Flag: toFlag(keyServerCacheEvictInterval), Default: 5 * time.Minute, Description: "Interval between cache eviction passes"},
	{Key: keyServerBootstrapTimeout, Flag: toFlag(keyServerBootstrapTimeout), Default: 30 * time.Second, Description: "Timeout of the initial list of a collection"},
	{Key: keyServerResyncInterval, Flag: toFlag(keyServerResyncInterval), Default: 30 * time.Second, Description: "Interval between attempts to reopen ended watches"},
}

// toFlag converts a viper key like "server.cache.eviction_interval"
// into a CLI flag like "cache-eviction-interval" by lower-casing,
// replacing dots and underscores with hyphens, and stripping the
// "server-" prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "server-")
	return flag
}
