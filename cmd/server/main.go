package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api"
	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
	"github.com/mahdi-taghi/business-assistant-ari/internal/app"
	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/config"
	"github.com/mahdi-taghi/business-assistant-ari/internal/handlers"
	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/session"
	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlexec"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := logging.New("server", cfg.IsDevelopment())

	ctx := context.Background()

	// Chat store: PostgreSQL when configured, SQLite otherwise
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("chat store unavailable")
	}
	defer db.Close()
	if cfg.DatabaseURL != "" {
		logger.Info().Str("dsn", logging.Mask(cfg.DatabaseURL)).Msg("connected to PostgreSQL")
	} else {
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite chat store")
	}

	// Redis carries the bus, history cache and rate limits
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required")
	}
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Str("url", logging.Mask(cfg.RedisURL)).Msg("redis connection failed")
	}
	defer redisStore.Close()
	redisStore.SetHistoryWindow(cfg.HistoryWindow)
	logger.Info().Msg("connected to Redis")

	// The analytical database is only probed by /health here
	var dataDB handlers.Pinger
	if cfg.DataDatabaseURL != "" {
		pool, err := sqlexec.Connect(ctx, cfg.DataDatabaseURL)
		if err != nil {
			logger.Warn().Err(err).Msg("data database unreachable; health will not report it")
		} else {
			exec := sqlexec.New(pool, cfg.QueryTimeout, logger)
			defer exec.Close()
			dataDB = exec
		}
	}

	correlator := bus.New(redisStore.Client(), app.BusConfig(cfg), logger)

	sessions := session.NewConnector(db, correlator, session.NewHub(), redisStore, session.Config{
		ResponseTimeout:  cfg.ResponseTimeout,
		ResponseRetries:  cfg.ResponseRetries,
		CleanupAttempts:  cfg.CleanupAttempts,
		HistoryWindow:    cfg.HistoryWindow,
		MessageRateLimit: cfg.MessageRateLimit,
		AllowedOrigins:   cfg.AllowedOrigins,
	}, logger)

	// Create router
	router := api.NewRouter(logger, api.Options{
		Store:          db,
		Redis:          redisStore,
		Bus:            correlator,
		Sessions:       sessions,
		DataDB:         dataDB,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: !cfg.IsDevelopment(),
		},
	})

	// Create server. No write timeout: websocket sessions manage their own
	// deadlines after the upgrade.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting talkdb server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
