package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-extraction-engine/internal/config"
	"event-extraction-engine/internal/services"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	useAWS := flag.Bool("aws", false, "load venues from DynamoDB and store results in S3")
	flag.Parse()

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := services.NewEngine(ctx, cfg, services.EngineOptions{Registerer: registry, UseAWS: *useAWS}, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      NewServer(engine, registry, cfg.Server.WriteTimeout-5*time.Second, logger).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", cfg.Server.ListenAddress), zap.Bool("aws", *useAWS))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if err := engine.Flush(shutdownCtx); err != nil {
		logger.Warn("failed to persist learned venues", zap.Error(err))
	}
	engine.Metrics().LogMetricsSummary()
}
