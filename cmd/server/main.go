package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/config"
	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/history"
	"github.com/caja-cash/caja/service/ledger"
	"github.com/caja-cash/caja/service/metrics"
	"github.com/caja-cash/caja/service/notify"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
	"github.com/caja-cash/caja/service/server"
)

func main() {
	// Load .env if present (local development); environment wins in prod
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"chain_id", cfg.ChainID,
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

	// Initialize database store and apply schema
	store := db.NewStore(dbPool)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize chain RPC client
	chainClient, err := chain.Dial(ctx, cfg.ChainRPCURL, cfg.ChainID, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to dial chain RPC", "error", err, "url", cfg.ChainRPCURL)
		os.Exit(1)
	}
	logger.Info("initialized chain RPC client", "chain_id", cfg.ChainID)

	// Initialize relayer signer and verify it matches the configured address
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

	// Initialize custody keyring for sender wallets
	custody, err := chain.NewKeyringCustody(cfg.CustodyKeys)
	if err != nil {
		logger.Error("failed to load custody keyring", "error", err)
		os.Exit(1)
	}
	logger.Info("initialized custody keyring", "keys", len(cfg.CustodyKeys))

	// Initialize NATS publisher for settlement notifications
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

	// Wire up the settlement path
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
	hist := history.NewReconstructor(store, cfg.RelayerAddress, cfg.HandleSuffix,
		cfg.DefaultPageSize, cfg.MaxPageSize, logger)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, ledgerSvc, hist, decider, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"chain_rpc", cfg.ChainRPCURL,
		"nats_url", cfg.NATSURL,
		"relayer", cfg.RelayerAddress,
		"tokens", len(tokens),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

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
