package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caja-cash/caja/service/config"
	"github.com/caja-cash/caja/service/history"
	"github.com/caja-cash/caja/service/ledger"
	"github.com/caja-cash/caja/service/metrics"
	"github.com/caja-cash/caja/service/relay"
)

// Server represents the HTTP server for the settlement service.
type Server struct {
	addr    string
	cfg     *config.Config
	ledger  *ledger.Service
	history *history.Reconstructor
	decider *relay.Decider
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, ledgerSvc *ledger.Service, hist *history.Reconstructor, decider *relay.Decider, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		ledger:  ledgerSvc,
		history: hist,
		decider: decider,
		metrics: m,
		logger:  logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Transaction routes
	mux.Handle("POST /api/v1/transactions", s.instrument("submit_transaction",
		handleSubmitTransaction(s.ledger, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.instrument("list_transactions",
		handleListTransactions(s.history, s.logger)))
	mux.Handle("GET /api/v1/transactions/{id}", s.instrument("get_transaction",
		handleGetTransaction(s.history, s.logger)))

	// Relayer operations route
	mux.Handle("GET /api/v1/relayer/status", s.instrument("relayer_status",
		handleRelayerStatus(s.decider, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, name, next)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
