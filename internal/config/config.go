// Package config loads msgbridge CLI settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MSGBRIDGE_BRIDGE_TIMEOUT.
const EnvPrefix = "MSGBRIDGE"

// Config holds application configuration.
type Config struct {
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Transport TransportConfig `mapstructure:"transport"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Log       LogConfig       `mapstructure:"log"`
}

// BridgeConfig holds call settings.
type BridgeConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	NamePrefix         string        `mapstructure:"name_prefix"`
	MaxPendingCalls    int           `mapstructure:"max_pending_calls"`
	ProtocolConstraint string        `mapstructure:"protocol_constraint"`
}

// TransportConfig selects the channel. URL schemes: amqp, amqps, nats, stdio.
type TransportConfig struct {
	URL      string `mapstructure:"url"`
	Outbound string `mapstructure:"outbound"`
	Inbound  string `mapstructure:"inbound"`
	Durable  bool   `mapstructure:"durable"`
}

// RetryConfig holds send retry and circuit breaker settings.
type RetryConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialInterval  time.Duration `mapstructure:"initial_interval"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path, or from the default location when path
// is empty. Env var overrides use prefix MSGBRIDGE_. A missing default file is
// not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "msgbridge"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("msgbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.timeout", 20*time.Second)
	v.SetDefault("bridge.name_prefix", "iframe-message-bridge-")
	v.SetDefault("bridge.max_pending_calls", 0)
	v.SetDefault("bridge.protocol_constraint", "")
	v.SetDefault("transport.url", "stdio:")
	v.SetDefault("transport.outbound", "msgbridge.outbound")
	v.SetDefault("transport.inbound", "msgbridge.inbound")
	v.SetDefault("transport.durable", false)
	v.SetDefault("retry.max_retries", 0)
	v.SetDefault("retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("retry.max_interval", 5*time.Second)
	v.SetDefault("retry.failure_threshold", 0)
	v.SetDefault("retry.breaker_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks values that would otherwise fail later with a less useful error.
func (c Config) Validate() error {
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("bridge.timeout must be positive, got %v", c.Bridge.Timeout)
	}
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	return nil
}
