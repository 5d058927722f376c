package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahdi-taghi/business-assistant-ari/internal/app"
	"github.com/mahdi-taghi/business-assistant-ari/internal/bus"
	"github.com/mahdi-taghi/business-assistant-ari/internal/config"
	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
	"github.com/mahdi-taghi/business-assistant-ari/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New("worker", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required")
	}
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Str("url", logging.Mask(cfg.RedisURL)).Msg("redis connection failed")
	}
	defer redisStore.Close()
	redisStore.SetHistoryWindow(cfg.HistoryWindow)

	p, err := app.NewPipeline(ctx, cfg, redisStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline setup failed")
	}
	defer p.Close()
	logger.Info().
		Str("provider", cfg.OracleProvider).
		Str("table", cfg.DataTable).
		Msg("pipeline ready")

	if cfg.WorkerMetrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.WorkerMetrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		defer srv.Close()
	}

	correlator := bus.New(redisStore.Client(), app.BusConfig(cfg), logger)
	w := worker.New(correlator, p, worker.Config{
		StartID:   cfg.WorkerStartID,
		Block:     cfg.WorkerBlock,
		Heartbeat: cfg.WorkerHeartbeat,
	}, logger)

	logger.Info().
		Str("stream", cfg.RequestStream).
		Str("start_id", cfg.WorkerStartID).
		Msg("worker listening")

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
	logger.Info().Int64("processed", w.Processed()).Msg("worker stopped")
}
