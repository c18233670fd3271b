// Package config загружает конфигурацию сервиса.
//
// Источники по возрастанию приоритета:
//  1. значения по умолчанию (DefaultConfig)
//  2. YAML-файл (--config)
//  3. файл .env (переменные, которых еще нет в окружении)
//  4. переменные окружения (PORT, STORAGE, DATABASE_URL, ...)
//  5. флаги командной строки (применяет cmd/server)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
)

// Типы хранилищ.
const (
	StorageInMemory = "inmemory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// DefaultKeyID - id ключа, заданного одной строкой (auth.secret / APP_SECRET).
const DefaultKeyID = "default"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	Playground      bool     `yaml:"playground"`
	Introspection   bool     `yaml:"introspection"`
	ComplexityLimit int      `yaml:"complexity_limit"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Type        string `yaml:"type"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	// Seed заполняет пустое хранилище демонстрационными данными.
	Seed bool `yaml:"seed"`
}

// AuthConfig: либо один Secret, либо набор Keys с ActiveKey для ротации.
type AuthConfig struct {
	Secret     string            `yaml:"secret"`
	Keys       map[string]string `yaml:"keys"`
	ActiveKey  string            `yaml:"active_key"`
	BcryptCost int               `yaml:"bcrypt_cost"`
	Policy     string            `yaml:"policy"`
	TokenTTL   Duration          `yaml:"token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File включает запись в файл с ротацией вместо stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Operations - имена операций, которые попадают в метки как есть.
	// Остальные метятся other_<type> или anonymous_<type>.
	Operations []string `yaml:"operations"`
}

// DefaultConfig returns sensible defaults for local development
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":4000",
			Playground:      true,
			Introspection:   true,
			ComplexityLimit: 200,
			ReadTimeout:     Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{Type: StorageInMemory, SQLitePath: "./blog.db"},
		Auth:    AuthConfig{BcryptCost: auth.DefaultCost, Policy: auth.PolicyAuthenticated},
		Log:     LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ComplexityLimit == 0 {
		c.Server.ComplexityLimit = d.Server.ComplexityLimit
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = d.Storage.Type
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = d.Storage.SQLitePath
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = d.Auth.BcryptCost
	}
	if c.Auth.Policy == "" {
		c.Auth.Policy = d.Auth.Policy
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Load собирает конфигурацию из файла path (может быть пустым), файлов
// envFiles (по умолчанию .env) и окружения процесса.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv переопределяет поля значениями переменных окружения.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	str("STORAGE", &c.Storage.Type)
	str("DATABASE_URL", &c.Storage.DatabaseURL)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("APP_SECRET", &c.Auth.Secret)
	str("AUTH_POLICY", &c.Auth.Policy)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("BCRYPT_COST"); ok && v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}
		c.Auth.BcryptCost = cost
	}
	if v, ok := lookup("TOKEN_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = Duration(ttl)
	}
	return nil
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageInMemory:
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage: DATABASE_URL must be set for postgres storage")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage: sqlite_path must be set for sqlite storage")
		}
	default:
		return fmt.Errorf("storage: unknown type %q (inmemory, postgres or sqlite)", c.Storage.Type)
	}

	if _, err := auth.NewPolicy(c.Auth.Policy); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth: bcrypt_cost %d out of range [4, 31]", c.Auth.BcryptCost)
	}
	if c.Auth.TokenTTL < 0 {
		return errors.New("auth: token_ttl must not be negative")
	}
	if len(c.Auth.Keys) > 0 {
		if _, ok := c.Auth.Keys[c.Auth.ActiveKey]; !ok {
			return fmt.Errorf("auth: active_key %q is not in keys", c.Auth.ActiveKey)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	if c.Server.ComplexityLimit < 0 {
		return errors.New("server: complexity_limit must not be negative")
	}
	return nil
}

// Keyring возвращает ключи подписи токенов. ok == false, если ни одного ключа
// не задано.
func (a AuthConfig) Keyring() (keys auth.Keyring, ok bool) {
	if len(a.Keys) > 0 {
		keys = auth.Keyring{Active: a.ActiveKey, Keys: make(map[string][]byte, len(a.Keys))}
		for kid, secret := range a.Keys {
			keys.Keys[kid] = []byte(secret)
		}
		return keys, true
	}
	if a.Secret != "" {
		return auth.Keyring{Active: DefaultKeyID, Keys: map[string][]byte{DefaultKeyID: []byte(a.Secret)}}, true
	}
	return auth.Keyring{}, false
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
