package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

const minimalConfig = `
global:
  log_level: info
api:
  server:
    listen: ":9000"
  auth:
    session_ttl: 12h
    anonymous_read: true
    users:
      - username: admin
        password: changeme
        staff: true
        groups: [lab-ops]
  database:
    driver: sqlite
    sqlite:
      path: /var/lib/labdash/labdash.db
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	require.NotNil(t, cfg.API)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, ":9000", cfg.API.Server.Listen)
	assert.Equal(t, "12h", cfg.API.Auth.SessionTTL)
	assert.True(t, cfg.API.Auth.AnonymousRead)
	require.Len(t, cfg.API.Auth.Users, 1)
	assert.Equal(t, "admin", cfg.API.Auth.Users[0].Username)
	assert.True(t, cfg.API.Auth.Users[0].Staff)
	assert.Equal(t, []string{"lab-ops"}, cfg.API.Auth.Users[0].Groups)
	assert.Equal(t, "/var/lib/labdash/labdash.db", cfg.API.Database.SQLite.Path)

	require.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
api:
  database:
    driver: sqlite
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.API)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.API.Auth.SessionTTL)
	assert.Equal(t, DefaultSQLitePath, cfg.API.Database.SQLite.Path)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9000", cfg.API.Server.Listen)
				assert.Equal(t, "info", cfg.Global.LogLevel)
			},
		},
		{
			name: "string override - log level",
			envVars: map[string]string{
				"LABDASH_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested override - listen address",
			envVars: map[string]string{
				"LABDASH_API_SERVER_LISTEN": ":7777",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":7777", cfg.API.Server.Listen)
			},
		},
		{
			name: "nested override - sqlite path",
			envVars: map[string]string{
				"LABDASH_API_DATABASE_SQLITE_PATH": "/tmp/override.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/override.db", cfg.API.Database.SQLite.Path)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, minimalConfig))
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(cfg *Config) {},
			wantErr: "",
		},
		{
			name:    "missing api section",
			mutate:  func(cfg *Config) { cfg.API = nil },
			wantErr: "api section is required",
		},
		{
			name: "unsupported driver",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "sqlite without path",
			mutate: func(cfg *Config) {
				cfg.API.Database.SQLite.Path = ""
			},
			wantErr: "database.sqlite.path is required",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "postgres"
			},
			wantErr: "database.postgres.host is required",
		},
		{
			name: "user without password",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Users[0].Password = ""
			},
			wantErr: "password is required",
		},
		{
			name: "duplicate usernames",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Users = append(
					cfg.API.Auth.Users,
					ConfigUser{Username: "admin", Password: "other"},
				)
			},
			wantErr: "duplicate username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
