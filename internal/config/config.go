package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance populated from defaults, the config
// file, and the environment. Flags are bound per command via
// BindFlags.
type Config struct {
	v *viper.Viper
}

// New loads the configuration. A missing config file is not an error.
func New() (*Config, error) {
	v := viper.New()

	// default values
	for _, o := range ServerOptions {
		v.SetDefault(o.Key, o.Default)
	}

	// load config from file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/otterscale-watch/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// load config from environment variables
	v.SetEnvPrefix("OTTERSCALE_WATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers one flag per option on fs and binds it to the
// option's viper key.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

func (c *Config) ServerAddress() string {
	return c.v.GetString(keyServerAddress) // OTTERSCALE_WATCH_SERVER_ADDRESS
}

func (c *Config) ServerAllowedOrigins() []string {
	return c.v.GetStringSlice(keyServerAllowedOrigins) // OTTERSCALE_WATCH_SERVER_ALLOWED_ORIGINS
}

func (c *Config) ServerKubeconfig() string {
	return c.v.GetString(keyServerKubeconfig) // OTTERSCALE_WATCH_SERVER_KUBECONFIG
}

func (c *Config) ServerCacheTTL() time.Duration {
	return c.v.GetDuration(keyServerCacheTTL) // OTTERSCALE_WATCH_SERVER_CACHE_TTL
}

func (c *Config) ServerCacheEvictionInterval() time.Duration {
	return c.v.GetDuration(keyServerCacheEvictInterval) // OTTERSCALE_WATCH_SERVER_CACHE_EVICTION_INTERVAL
}

func (c *Config) ServerBootstrapTimeout() time.Duration {
	return c.v.GetDuration(keyServerBootstrapTimeout) // OTTERSCALE_WATCH_SERVER_BOOTSTRAP_TIMEOUT
}

func (c *Config) ServerResyncInterval() time.Duration {
	return c.v.GetDuration(keyServerResyncInterval) // OTTERSCALE_WATCH_SERVER_RESYNC_INTERVAL
}
