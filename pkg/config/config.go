package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default lifetime of a login session.
	DefaultSessionTTL = "24h"

	// DefaultDatabaseDriver is used when no driver is configured.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "./labdash.db"

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "LABDASH"
)

// Config is the root configuration for labdash.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	API    *APIConfig   `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads the configuration file at path, applies LABDASH_* environment
// variable overrides, and fills in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Environment overrides: LABDASH_API_SERVER_LISTEN overrides
	// api.server.listen, and so on for every key present in the file.
	for _, key := range v.AllKeys() {
		envKey := EnvPrefix + "_" +
			strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if val, ok := os.LookupEnv(envKey); ok {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API == nil {
		return
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Auth.SessionTTL == "" {
		c.API.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.API.Database.Driver == "" {
		c.API.Database.Driver = DefaultDatabaseDriver
	}

	if c.API.Database.Driver == "sqlite" && c.API.Database.SQLite.Path == "" {
		c.API.Database.SQLite.Path = DefaultSQLitePath
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("api section is required")
	}

	return c.API.Validate()
}
