package main

import (
	"github.com/spf13/cobra"

	"github.com/UkralStul/graphql-blog-service/internal/auth"
	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/logging"
	"github.com/UkralStul/graphql-blog-service/internal/seed"
	"github.com/UkralStul/graphql-blog-service/internal/server"
)

// migrateCmd применяет схему БД и выходит
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema (postgres, sqlite) and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&withSeed, "seed", false, "fill empty storage with mock data after migrating")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer := logging.New(cfg.Log, serviceName)
	defer closer.Close()

	if cfg.Storage.Type == config.StorageInMemory {
		logger.Warn("in-memory storage has no schema, nothing to migrate")
		return nil
	}

	// Миграции выполняются при открытии хранилища
	store, err := server.OpenStorage(cfg.Storage, cfg.Log.Level, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Storage.Seed {
		hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
		if _, err := seed.Fill(cmd.Context(), store, hasher, logger); err != nil {
			return err
		}
	}

	logger.Info("schema is up to date", "storage", cfg.Storage.Type)
	return nil
}
