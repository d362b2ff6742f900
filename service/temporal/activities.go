package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/metrics"
)

// Reconciliation outcomes for a single stale row.
const (
	OutcomeConfirmed    = "confirmed"
	OutcomeFailed       = "failed"
	OutcomeStillPending = "still_pending"
)

// ListStalePendingInput contains parameters for the ListStalePending activity.
type ListStalePendingInput struct {
	MinAge time.Duration `json:"min_age"`
	Limit  int32         `json:"limit"`
}

// StaleTransaction is the subset of a ledger row the workflow needs.
type StaleTransaction struct {
	ID        uuid.UUID `json:"id"`
	TxHash    *string   `json:"tx_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListStalePendingResult contains the result of the ListStalePending activity.
type ListStalePendingResult struct {
	Transactions []StaleTransaction `json:"transactions"`
}

// ReconcileTransactionInput contains parameters for the ReconcileTransaction activity.
type ReconcileTransactionInput struct {
	ID        uuid.UUID     `json:"id"`
	TxHash    *string       `json:"tx_hash,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	MaxAge    time.Duration `json:"max_age"`
}

// ReconcileTransactionResult contains the outcome for one row.
type ReconcileTransactionResult struct {
	Outcome string `json:"outcome"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	ListStalePendingTransactions(ctx context.Context, before time.Time, limit int32) ([]*db.Transaction, error)
}

// LedgerInterface drives terminal transitions, including their post-commit
// notification dispatch.
type LedgerInterface interface {
	MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string, sponsorTxHash *string) (*db.Transaction, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, sponsorTxHash *string) (*db.Transaction, error)
}

// ChainInterface reads transaction receipts. *chain.Client satisfies it.
type ChainInterface interface {
	Receipt(ctx context.Context, txHash string) (chain.ReceiptStatus, error)
}

// Activities holds the dependencies for reconciliation activity implementations.
type Activities struct {
	store   StoreInterface
	ledger  LedgerInterface
	chain   ChainInterface
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with the given dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(store StoreInterface, ledger LedgerInterface, chainClient ChainInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	return &Activities{
		store:   store,
		ledger:  ledger,
		chain:   chainClient,
		metrics: m,
		logger:  logger,
	}
}

// ListStalePending returns PENDING rows older than MinAge, oldest first.
func (a *Activities) ListStalePending(ctx context.Context, input ListStalePendingInput) (*ListStalePendingResult, error) {
	before := time.Now().UTC().Add(-input.MinAge)
	rows, err := a.store.ListStalePendingTransactions(ctx, before, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}

	result := &ListStalePendingResult{Transactions: make([]StaleTransaction, 0, len(rows))}
	for _, txn := range rows {
		result.Transactions = append(result.Transactions, StaleTransaction{
			ID:        txn.ID,
			TxHash:    txn.TxHash,
			CreatedAt: txn.CreatedAt,
		})
	}

	a.logger.DebugContext(ctx, "listed stale pending transactions",
		"count", len(result.Transactions),
		"older_than", before,
	)
	return result, nil
}

// ReconcileTransaction settles one stale PENDING row from on-chain state.
// Rows with a broadcast hash follow the receipt; rows that never got a hash
// are failed once they exceed MaxAge, since the process died before
// broadcast and no transaction can ever appear.
func (a *Activities) ReconcileTransaction(ctx context.Context, input ReconcileTransactionInput) (*ReconcileTransactionResult, error) {
	outcome, err := a.reconcile(ctx, input)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordReconcileOutcome("error")
		}
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordReconcileOutcome(outcome)
	}
	a.logger.InfoContext(ctx, "reconciled transaction",
		"transaction_id", input.ID,
		"outcome", outcome,
	)
	return &ReconcileTransactionResult{Outcome: outcome}, nil
}

func (a *Activities) reconcile(ctx context.Context, input ReconcileTransactionInput) (string, error) {
	if input.TxHash == nil {
		if time.Since(input.CreatedAt) < input.MaxAge {
			return OutcomeStillPending, nil
		}
		_, err := a.ledger.MarkFailed(ctx, input.ID, "settlement interrupted before broadcast", nil)
		if errors.Is(err, db.ErrAlreadyFinal) {
			// A concurrent path already settled it; nothing to do.
			return OutcomeStillPending, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to mark abandoned transaction failed: %w", err)
		}
		return OutcomeFailed, nil
	}

	status, err := a.chain.Receipt(ctx, *input.TxHash)
	if errors.Is(err, chain.ErrNotMined) {
		return OutcomeStillPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch receipt for %s: %w", *input.TxHash, err)
	}

	switch status {
	case chain.ReceiptSuccess:
		_, err = a.ledger.MarkConfirmed(ctx, input.ID, *input.TxHash, nil)
		if errors.Is(err, db.ErrAlreadyFinal) {
			return OutcomeStillPending, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to mark transaction confirmed: %w", err)
		}
		return OutcomeConfirmed, nil
	default:
		_, err = a.ledger.MarkFailed(ctx, input.ID, "transaction reverted on chain", nil)
		if errors.Is(err, db.ErrAlreadyFinal) {
			return OutcomeStillPending, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to mark transaction failed: %w", err)
		}
		return OutcomeFailed, nil
	}
}
