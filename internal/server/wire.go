package server

import (
	"fmt"
	"log/slog"

	gormlogger "gorm.io/gorm/logger"

	"github.com/UkralStul/graphql-blog-service/graph"
	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/storage"
	"github.com/UkralStul/graphql-blog-service/internal/storage/inmemory"
	"github.com/UkralStul/graphql-blog-service/internal/storage/postgres"
	"github.com/UkralStul/graphql-blog-service/internal/storage/sqlite"
)

// OpenStorage создает хранилище выбранного типа. Для postgres и sqlite схема
// мигрируется при открытии.
func OpenStorage(cfg config.StorageConfig, logLevel string, logger *slog.Logger) (storage.Storage, error) {
	logger.Info("opening storage", "type", cfg.Type)

	switch cfg.Type {
	case config.StorageInMemory:
		return inmemory.New(), nil
	case config.StoragePostgres:
		level := gormlogger.Warn
		if logLevel == "debug" {
			level = gormlogger.Info
		}
		store, err := postgres.New(cfg.DatabaseURL, level)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, nil
	case config.StorageSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// NewResolver собирает корневой резолвер: хеширование паролей, токены и
// политику доступа. Без настроенного секрета токены подписываются случайным
// ключом и не переживают перезапуск.
func NewResolver(cfg config.AuthConfig, store storage.Storage, logger *slog.Logger) (*graph.Resolver, error) {
	keys, ok := cfg.Keyring()
	if !ok {
		random, err := auth.RandomKeyring()
		if err != nil {
			return nil, err
		}
		logger.Warn("no token secret configured (APP_SECRET), using a random signing key; issued tokens will not survive a restart")
		keys = random
	}

	tokens, err := auth.NewTokenManager(keys, cfg.TokenTTL.Duration())
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	policy, err := auth.NewPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	return &graph.Resolver{
		Storage:   store,
		Observer:  graph.NewCommentObserver(),
		Passwords: auth.NewPasswordHasher(cfg.BcryptCost),
		Tokens:    tokens,
		Gate:      auth.NewGate(tokens),
		Policy:    policy,
		Logger:    logger,
	}, nil
}
