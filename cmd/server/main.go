package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UkralStul/graphql-blog-service/internal/config"
	"github.com/UkralStul/graphql-blog-service/internal/logging"
	"github.com/UkralStul/graphql-blog-service/internal/seed"
	"github.com/UkralStul/graphql-blog-service/internal/server"
)

const serviceName = "graphql-blog-service"

var (
	configPath  string
	storageType string
	addr        string
	withSeed    bool
)

// rootCmd запускает сервер, если подкоманда не указана
var rootCmd = &cobra.Command{
	Use:           "blog-server",
	Short:         "GraphQL blog API: users, posts and comments",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GraphQL server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&storageType, "storage", "", "storage type (inmemory, postgres or sqlite)")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :4000")
		cmd.Flags().BoolVar(&withSeed, "seed", false, "fill empty storage with mock data")
	}

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig применяет флаги поверх файла и окружения.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = addr
	}
	if cmd.Flags().Changed("seed") {
		cfg.Storage.Seed = withSeed
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closer := logging.New(cfg.Log, serviceName)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := server.OpenStorage(cfg.Storage, cfg.Log.Level, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, err := server.NewResolver(cfg.Auth, store, logger)
	if err != nil {
		return err
	}

	if cfg.Storage.Seed {
		if _, err := seed.Fill(ctx, store, resolver.Passwords, logger); err != nil {
			return err
		}
	}

	srv := server.New(cfg, store, resolver, logger)
	logger.Info("starting server",
		"storage", cfg.Storage.Type,
		"policy", resolver.Policy.Mode(),
		"introspection", cfg.Server.Introspection)
	if cfg.Server.Playground {
		logger.Info(fmt.Sprintf("connect to http://localhost%s/ for GraphQL playground", cfg.Server.Addr))
	}

	return srv.Start(ctx, nil)
}
