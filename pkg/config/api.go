package config

import "fmt"

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database APIDatabaseConfig `yaml:"database" mapstructure:"database"`
	Storage  APIStorageConfig  `yaml:"storage,omitempty" mapstructure:"storage"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	SessionTTL    string       `yaml:"session_ttl" mapstructure:"session_ttl"`
	AnonymousRead bool         `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Users         []ConfigUser `yaml:"users,omitempty" mapstructure:"users"`
}

// ConfigUser defines a user seeded from config.
type ConfigUser struct {
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	Staff    bool     `yaml:"staff" mapstructure:"staff"`
	Groups   []string `yaml:"groups,omitempty" mapstructure:"groups"`
}

// APIStorageConfig contains artifact storage backend settings. Artifacts
// are build logs, test run logs, and hardware description documents.
// Only one backend (S3 or local) may be enabled at a time.
type APIStorageConfig struct {
	S3    *APIS3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Local *APILocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// APILocalStorageConfig serves artifact files from local directories.
// Each entry maps a URL path prefix to an absolute directory root.
type APILocalStorageConfig struct {
	Enabled bool              `yaml:"enabled" mapstructure:"enabled"`
	Roots   map[string]string `yaml:"roots,omitempty" mapstructure:"roots"`
}

// APIS3Config contains S3 settings for presigned URL generation.
type APIS3Config struct {
	Enabled         bool                    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string                  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string                  `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string                  `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string                  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string                  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool                    `yaml:"force_path_style" mapstructure:"force_path_style"`
	PresignedURLs   APIS3PresignedURLConfig `yaml:"presigned_urls,omitempty" mapstructure:"presigned_urls"`
	AllowedPrefixes []string                `yaml:"allowed_prefixes,omitempty" mapstructure:"allowed_prefixes"`
}

// APIS3PresignedURLConfig contains presigned URL generation settings.
type APIS3PresignedURLConfig struct {
	Expiry string `yaml:"expiry,omitempty" mapstructure:"expiry"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Validate checks the API configuration for errors.
func (c *APIConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	seen := make(map[string]struct{}, len(c.Auth.Users))

	for i, u := range c.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("auth.users[%d]: username is required", i)
		}

		if _, exists := seen[u.Username]; exists {
			return fmt.Errorf("auth.users[%d]: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if u.Password == "" {
			return fmt.Errorf("auth user %q: password is required", u.Username)
		}
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled &&
		c.Storage.Local != nil && c.Storage.Local.Enabled {
		return fmt.Errorf("only one storage backend may be enabled")
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}

	return nil
}
