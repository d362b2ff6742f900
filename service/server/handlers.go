package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/history"
	"github.com/caja-cash/caja/service/ledger"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
)

const maxRequestBodySize = 1 << 20 // 1MB

// userIDHeader carries the authenticated user, injected by the upstream
// auth layer. Requests without it never reach this service in production;
// rejecting here keeps local testing honest.
const userIDHeader = "X-User-ID"

// Submitter runs the settlement path for one transfer.
// *ledger.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, params ledger.SubmitParams) (*ledger.SubmitResult, error)
}

// HistoryLister serves privacy-preserving history pages.
// *history.Reconstructor satisfies it.
type HistoryLister interface {
	ListForUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]history.DisplayTransaction, error)
	GetForUser(ctx context.Context, userID, txID uuid.UUID) (*history.DisplayTransaction, error)
}

// RelayerStatuser reports relayer wallet health. *relay.Decider satisfies it.
type RelayerStatuser interface {
	Status(ctx context.Context) (*relay.RelayerStatus, error)
}

type submitRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Token     string `json:"token"`
}

type submitResponse struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Sponsored     bool    `json:"sponsored"`
	TopupTxHash   *string `json:"topup_tx_hash,omitempty"`
	TransferTx    *string `json:"transfer_tx_hash,omitempty"`
}

// handleSubmitTransaction returns a handler that accepts a transfer request
// and runs the full settlement path.
// POST /api/v1/transactions
func handleSubmitTransaction(ledgerSvc Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		var req submitRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Recipient == "" {
			writeError(w, "recipient is required", http.StatusBadRequest)
			return
		}
		if req.Token == "" {
			writeError(w, "token is required", http.StatusBadRequest)
			return
		}

		result, err := ledgerSvc.Submit(r.Context(), ledger.SubmitParams{
			SenderUserID: userID,
			Recipient:    req.Recipient,
			Amount:       req.Amount,
			Token:        req.Token,
		})
		if err != nil {
			writeSubmitError(w, r, logger, err)
			return
		}

		logger.Info("transaction submitted",
			"transaction_id", result.Transaction.ID,
			"user_id", userID,
			"sponsored", result.Sponsored,
		)
		writeJSON(w, submitResponse{
			TransactionID: result.Transaction.ID.String(),
			Status:        result.Transaction.Status,
			Sponsored:     result.Sponsored,
			TopupTxHash:   result.TopupTxHash,
			TransferTx:    result.Transaction.TxHash,
		}, http.StatusCreated)
	})
}

// writeSubmitError maps the settlement error taxonomy to HTTP statuses.
// Validation and resolution failures are 4xx with no ledger row; sponsorship
// exhaustion is a retryable 503; submission failures are 502 with the row
// already FAILED.
func writeSubmitError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnsupportedToken),
		errors.Is(err, resolver.ErrInvalidFormat):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, "recipient not found", http.StatusNotFound)
	case errors.Is(err, resolver.ErrNoWallet):
		writeError(w, "recipient has no wallet", http.StatusUnprocessableEntity)
	case errors.Is(err, resolver.ErrSelfTransfer):
		writeError(w, "cannot send to your own wallet", http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrNoWallet):
		writeError(w, "sender has no wallet", http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, "insufficient balance", http.StatusUnprocessableEntity)
	case errors.Is(err, relay.ErrSponsorshipUnavailable):
		writeError(w, "gas sponsorship temporarily unavailable, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, ledger.ErrChainSubmission):
		logger.Error("settlement failed", "error", err)
		writeError(w, "transaction failed", http.StatusBadGateway)
	default:
		logger.Error("transaction submission failed", "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// handleListTransactions returns a handler that serves the user's
// privacy-preserving history.
// GET /api/v1/transactions?page={page}&page_size={page_size}
func handleListTransactions(hist HistoryLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 0)

		txns, err := hist.ListForUser(r.Context(), userID, page, pageSize)
		if err != nil {
			logger.Error("failed to list transactions", "user_id", userID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]any{
			"transactions": txns,
			"page":         page,
		}, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that serves a single transaction in
// the same privacy-preserving display form as the listing. Only a party to
// the transaction may read it.
// GET /api/v1/transactions/{id}
func handleGetTransaction(hist HistoryLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authenticatedUser(w, r)
		if !ok {
			return
		}

		txID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid transaction id", http.StatusBadRequest)
			return
		}

		txn, err := hist.GetForUser(r.Context(), userID, txID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		case errors.Is(err, history.ErrNotParticipant):
			writeError(w, "access denied", http.StatusForbidden)
			return
		case err != nil:
			logger.Error("failed to get transaction", "user_id", userID, "transaction_id", txID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, txn, http.StatusOK)
	})
}

// handleRelayerStatus returns a handler that reports the live relayer
// balance and remaining sponsorship capacity.
// GET /api/v1/relayer/status
func handleRelayerStatus(decider RelayerStatuser, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := decider.Status(r.Context())
		if err != nil {
			logger.Error("failed to get relayer status", "error", err)
			writeError(w, "failed to read relayer status", http.StatusBadGateway)
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

func authenticatedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		writeError(w, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, "invalid "+userIDHeader+" header", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
