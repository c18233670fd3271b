package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, StorageInMemory, cfg.Storage.Type)
	assert.Equal(t, "authenticated", cfg.Auth.Policy)
	assert.Zero(t, cfg.Auth.TokenTTL)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":8080"
  playground: false
storage:
  type: sqlite
  sqlite_path: /tmp/blog.db
auth:
  keys:
    old: first-secret
    new: second-secret
  active_key: new
  token_ttl: 24h
log:
  level: debug
metrics:
  operations: [Feed, PostPage]
`), 0o600))

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Server.Playground)
	// Поля, которых нет в файле, остаются по умолчанию
	assert.True(t, cfg.Server.Introspection)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"Feed", "PostPage"}, cfg.Metrics.Operations)

	keys, ok := cfg.Auth.Keyring()
	require.True(t, ok)
	assert.Equal(t, "new", keys.Active)
	assert.Equal(t, []byte("first-secret"), keys.Keys["old"])
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  token_ttl: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AUTH_POLICY=owner\n"), 0o600))
	t.Setenv("PORT", "9000")
	t.Cleanup(func() { os.Unsetenv("AUTH_POLICY") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "owner", cfg.Auth.Policy)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"STORAGE":      "postgres",
		"DATABASE_URL": "postgres://localhost/blog",
		"APP_SECRET":   "s3cret",
		"BCRYPT_COST":  "12",
		"TOKEN_TTL":    "1h",
		"LOG_FORMAT":   "text",
		"LOG_LEVEL":    "",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/blog", cfg.Storage.DatabaseURL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, "text", cfg.Log.Format)
	// Пустая переменная не затирает значение
	assert.Equal(t, "info", cfg.Log.Level)

	keys, ok := cfg.Auth.Keyring()
	require.True(t, ok)
	assert.Equal(t, DefaultKeyID, keys.Active)
	assert.Equal(t, []byte("s3cret"), keys.Keys[DefaultKeyID])
}

func TestApplyEnv_Invalid(t *testing.T) {
	assert.Error(t, DefaultConfig().ApplyEnv(mapLookup(map[string]string{"BCRYPT_COST": "high"})))
	assert.Error(t, DefaultConfig().ApplyEnv(mapLookup(map[string]string{"TOKEN_TTL": "forever"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }},
		{"postgres without url", func(c *Config) { c.Storage.Type = StoragePostgres }},
		{"sqlite without path", func(c *Config) { c.Storage.Type = StorageSQLite; c.Storage.SQLitePath = "" }},
		{"unknown policy", func(c *Config) { c.Auth.Policy = "anyone" }},
		{"bcrypt cost too low", func(c *Config) { c.Auth.BcryptCost = 2 }},
		{"negative ttl", func(c *Config) { c.Auth.TokenTTL = Duration(-time.Second) }},
		{"active key missing", func(c *Config) { c.Auth.Keys = map[string]string{"a": "x"}; c.Auth.ActiveKey = "b" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestKeyring_Empty(t *testing.T) {
	_, ok := DefaultConfig().Auth.Keyring()
	assert.False(t, ok)
}
