// Package config loads SDK settings from an optional yaml file and LEDGER_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/pilacorp/go-ledger-sdk/confirm"
	"github.com/pilacorp/go-ledger-sdk/signer"
)

// Default values
const (
	DefaultSignerBackend  = BackendRemote
	DefaultSignerEndpoint = "http://127.0.0.1:8731"
	DefaultJournalPath    = "data/journal"
	DefaultLogLevel       = "info"
)

// Key backends
const (
	BackendRemote  = "remote"
	BackendSchnorr = "schnorr"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_SIGNER_ENDPOINT.
const EnvPrefix = "LEDGER"

// Signer selects and configures the key backend.
type Signer struct {
	Backend  string        `mapstructure:"backend"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Confirm configures the confirmation policy.
type Confirm struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Interval          time.Duration `mapstructure:"interval"`
	SafetyMargin      uint32        `mapstructure:"safety_margin"`
	RebroadcastOffset uint32        `mapstructure:"rebroadcast_offset"`
}

// Journal configures the attempt journal.
type Journal struct {
	Path string `mapstructure:"path"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the full SDK configuration.
type Config struct {
	Signer  Signer  `mapstructure:"signer"`
	Confirm Confirm `mapstructure:"confirm"`
	Journal Journal `mapstructure:"journal"`
	Log     Log     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signer.backend", DefaultSignerBackend)
	v.SetDefault("signer.endpoint", DefaultSignerEndpoint)
	v.SetDefault("signer.api_key", "")
	v.SetDefault("signer.timeout", signer.DefaultRemoteTimeout)
	v.SetDefault("confirm.max_attempts", confirm.DefaultMaxAttempts)
	v.SetDefault("confirm.interval", confirm.DefaultInterval)
	v.SetDefault("confirm.safety_margin", confirm.DefaultSafetyMargin)
	v.SetDefault("confirm.rebroadcast_offset", confirm.DefaultRebroadcastOffset)
	v.SetDefault("journal.path", DefaultJournalPath)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Signer.Backend {
	case BackendRemote:
		if strings.TrimSpace(c.Signer.Endpoint) == "" {
			return errors.New("signer.endpoint is required")
		}
	case BackendSchnorr:
	default:
		return errors.Errorf("unknown signer.backend %q", c.Signer.Backend)
	}
	if c.Signer.Timeout <= 0 {
		return errors.Errorf("signer.timeout must be positive, got %s", c.Signer.Timeout)
	}
	if c.Confirm.MaxAttempts <= 0 {
		return errors.Errorf("confirm.max_attempts must be positive, got %d", c.Confirm.MaxAttempts)
	}
	if c.Confirm.Interval < 0 {
		return errors.Errorf("confirm.interval must not be negative, got %s", c.Confirm.Interval)
	}
	if c.Confirm.RebroadcastOffset == 0 {
		return errors.New("confirm.rebroadcast_offset must be positive")
	}
	return nil
}

// WatcherOptions turns the confirmation settings into Watcher options.
func (c *Config) WatcherOptions() []confirm.Option {
	return []confirm.Option{
		confirm.WithMaxAttempts(c.Confirm.MaxAttempts),
		confirm.WithInterval(c.Confirm.Interval),
		confirm.WithSafetyMargin(c.Confirm.SafetyMargin),
		confirm.WithRebroadcastOffset(c.Confirm.RebroadcastOffset),
	}
}

// RemoteBackend builds the configured key backend.
func (c *Config) RemoteBackend(opts ...signer.RemoteOption) (*signer.RemoteBackend, error) {
	opts = append([]signer.RemoteOption{signer.WithTimeout(c.Signer.Timeout)}, opts...)
	return signer.NewRemoteBackend(c.Signer.Endpoint, c.Signer.APIKey, opts...)
}

// SignerInit returns the one-time initializer of the configured key backend.
func (c *Config) SignerInit(opts ...signer.RemoteOption) (signer.InitFunc, error) {
	if c.Signer.Backend == BackendSchnorr {
		return signer.LocalInit(signer.SchnorrBackend{}), nil
	}
	backend, err := c.RemoteBackend(opts...)
	if err != nil {
		return nil, err
	}
	return signer.RemoteInit(backend), nil
}
