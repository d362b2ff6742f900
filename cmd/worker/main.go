package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/config"
	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/ledger"
	"github.com/caja-cash/caja/service/metrics"
	"github.com/caja-cash/caja/service/notify"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
	"github.com/caja-cash/caja/service/temporal"
)

func main() {
	// Load .env if present (local development); environment wins in prod
	_ = godotenv.Load()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize chain RPC client
	chainClient, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.ChainID, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to dial chain RPC", "error", err, "url", cfg.ChainRPCURL)
		os.Exit(1)
	}
	logger.Info("initialized chain RPC client", "chain_id", cfg.ChainID)

	// Initialize relayer signer and custody keyring; reconciliation never
	// signs, but the ledger service carries the full settlement wiring
	relayerSigner, err := chain.NewSigner(cfg.RelayerPrivateKey)
	if err != nil {
		logger.Error("failed to load relayer key", "error", err)
		os.Exit(1)
	}
	if !strings.EqualFold(relayerSigner.Address().Hex(), cfg.RelayerAddress) {
		logger.Error("relayer key does not match RELAYER_ADDRESS",
			"derived", relayerSigner.Address().Hex(),
			"configured", cfg.RelayerAddress,
		)
		os.Exit(1)
	}
	custody, err := chain.NewKeyringCustody(cfg.CustodyKeys)
	if err != nil {
		logger.Error("failed to load custody keyring", "error", err)
		os.Exit(1)
	}

	// Initialize NATS publisher so reconciliation outcomes notify users
	natsPublisher, err := notify.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Token symbol -> contract address
	tokens := make(map[string]common.Address, len(cfg.TokenContracts))
	for symbol, addr := range cfg.TokenContracts {
		tokens[symbol] = common.HexToAddress(addr)
	}

	recipientResolver := resolver.NewResolver(store, cfg.ChainID, cfg.HandleSuffix, logger)
	decider := relay.NewDecider(chainClient, relayerSigner.Address(), metricsCollector, logger)
	settlement := relay.NewSettlement(chainClient, custody, relayerSigner, metricsCollector, logger)
	ledgerSvc := ledger.NewService(
		store,
		recipientResolver,
		decider,
		settlement,
		chainClient,
		natsPublisher,
		tokens,
		cfg.ChainID,
		metricsCollector,
		logger,
	)

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Ensure the reconciliation sweep schedule exists with current settings
	if err := temporalClient.UpsertReconcileSchedule(ctx,
		cfg.ReconcileInterval, cfg.ReconcileMinAge, cfg.ReconcileMaxAge); err != nil {
		logger.Error("failed to upsert reconcile schedule", "error", err)
		os.Exit(1)
	}
	logger.Info("reconcile schedule ready",
		"interval", cfg.ReconcileInterval,
		"min_age", cfg.ReconcileMinAge,
		"max_age", cfg.ReconcileMaxAge,
	)

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		Ledger:            ledgerSvc,
		Chain:             chainClient,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"temporal_host", cfg.TemporalHost,
		"temporal_namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
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

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
