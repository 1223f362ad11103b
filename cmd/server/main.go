package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medstock/backend/internal/cache"
	"medstock/backend/internal/config"
	"medstock/backend/internal/domain"
	"medstock/backend/internal/httpapi"
	"medstock/backend/internal/metrics"
	"medstock/backend/internal/reorder"
	"medstock/backend/internal/service"
	"medstock/backend/internal/store"
	"medstock/backend/internal/store/memory"
	pgstore "medstock/backend/internal/store/postgres"
	sqlitestore "medstock/backend/internal/store/sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "medstock",
		Short:         "Pharmacy stock intake and inventory API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer(cfg config.Config, logger zerolog.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn().Err(err).Msg("close error")
			}
		}
	}()

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, repo.Close)

	if cfg.AutoMigrate {
		if err := migrateStore(ctx, repo, logger); err != nil {
			return err
		}
	}

	m := metrics.New()

	runCtx, stopSubscribers := context.WithCancel(context.Background())
	defer stopSubscribers()

	inventoryCache := openCache(ctx, runCtx, cfg, logger, m, &closers)

	svc := service.New(repo, inventoryCache, reorder.NewEngine(0), service.Options{
		StoreTimeout:      cfg.StoreTimeout(),
		InventoryCacheTTL: cfg.InventoryCacheTTL(),
		ExpiryWarningDays: cfg.ExpiryWarningDays,
		Logger:            logger,
		Metrics:           m,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Metrics:       m,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Address()).Str("store", cfg.StoreDriver).Msg("medstock API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	stopSubscribers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	logger.Info().Msg("server stopped")
	return nil
}

// openStore picks the repository for cfg.StoreDriver. A configured database
// that cannot be reached is fatal; there is no silent in-memory fallback.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and STORE_DRIVER=postgres; refusing to start: %w", err)
		}
		logger.Info().Msg("repository: postgres")
		return pg, nil
	case config.DriverSQLite:
		db, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
		return db, nil
	default:
		logger.Info().Msg("repository: in-memory")
		return memory.NewSeeded(logger), nil
	}
}

// openCache prefers Redis and falls back to a process-local cache when Redis
// is not configured or not reachable.
func openCache(ctx context.Context, runCtx context.Context, cfg config.Config, logger zerolog.Logger, m *metrics.Metrics, closers *[]func() error) cache.InventoryCache {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("cache: memory")
		return cache.NewMemoryInventoryCache()
	}

	redisCache := cache.NewRedisInventoryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using memory cache")
		_ = redisCache.Close()
		return cache.NewMemoryInventoryCache()
	}
	*closers = append(*closers, redisCache.Close)
	logger.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")

	go func() {
		err := redisCache.Subscribe(runCtx, func(change domain.InventoryChange) {
			m.InventoryChange("received", change.Action)
			logger.Debug().
				Str("event", change.Event).
				Str("action", change.Action).
				Str("entry_id", change.EntryID).
				Msg("inventory change received")
		})
		if err != nil && runCtx.Err() == nil {
			logger.Warn().Err(err).Msg("inventory change subscription ended")
		}
	}()

	return redisCache
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !cfg.IsDev() && cfg.StoreDriver == config.DriverMemory {
		return fmt.Errorf("STORE_DRIVER=memory is only allowed with ENV=development")
	}
	if !cfg.IsDev() && strings.TrimSpace(cfg.AllowedOrigin) == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN=* is only allowed with ENV=development")
	}
	return nil
}
