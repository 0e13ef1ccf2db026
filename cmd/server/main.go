package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solwatch/solwatch/service/config"
	"github.com/solwatch/solwatch/service/db"
	"github.com/solwatch/solwatch/service/events"
	"github.com/solwatch/solwatch/service/metrics"
	"github.com/solwatch/solwatch/service/poller"
	"github.com/solwatch/solwatch/service/server"
	"github.com/solwatch/solwatch/service/solana"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"watch_address", cfg.WatchAddress,
		"poll_interval", cfg.PollInterval,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	// Schema initialization failure is one of the two fatal conditions;
	// everything downstream degrades instead of dying.
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	m := metrics.NewMetrics(nil)

	// Solana RPC client
	// Validated by config.Load, so this cannot fail here.
	watchAddress := solanago.MustPublicKeyFromBase58(cfg.WatchAddress)
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, cfg.SolanaRPCURL, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Optional NATS event publishing
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		jsPublisher, err := events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher", "error", err)
			os.Exit(1)
		}
		defer jsPublisher.Close()
		publisher = jsPublisher
	} else {
		logger.Info("NATS_URL not set, event publishing disabled")
	}

	// Ingestion pipeline
	p := poller.New(solanaClient, store, publisher, poller.Options{
		Address:        watchAddress,
		Interval:       cfg.PollInterval,
		SignatureLimit: cfg.SignatureLimit,
		Retention:      cfg.Retention,
	}, m, logger)
	p.Start(ctx)
	defer p.Stop()

	// Query API
	httpServer := server.New(cfg.ServerAddr, store, m, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		// Let the in-flight poll cycle finish before tearing down deps.
		p.Stop()

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
