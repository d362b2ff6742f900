package temporal

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/db"
)

type fakeStore struct {
	stale []*db.Transaction
}

func (f *fakeStore) ListStalePendingTransactions(_ context.Context, _ time.Time, _ int32) ([]*db.Transaction, error) {
	return f.stale, nil
}

type fakeLedger struct {
	confirmed map[uuid.UUID]string
	failed    map[uuid.UUID]string
	err       error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		confirmed: make(map[uuid.UUID]string),
		failed:    make(map[uuid.UUID]string),
	}
}

func (f *fakeLedger) MarkConfirmed(_ context.Context, id uuid.UUID, txHash string, _ *string) (*db.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.confirmed[id] = txHash
	return &db.Transaction{ID: id, Status: db.StatusConfirmed, TxHash: &txHash}, nil
}

func (f *fakeLedger) MarkFailed(_ context.Context, id uuid.UUID, reason string, _ *string) (*db.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed[id] = reason
	return &db.Transaction{ID: id, Status: db.StatusFailed, ErrorMessage: &reason}, nil
}

type fakeChain struct {
	receipts map[string]chain.ReceiptStatus
}

func (f *fakeChain) Receipt(_ context.Context, txHash string) (chain.ReceiptStatus, error) {
	status, ok := f.receipts[txHash]
	if !ok {
		return 0, chain.ErrNotMined
	}
	return status, nil
}

func newTestActivities(store *fakeStore, ledger *fakeLedger, ch *fakeChain) *Activities {
	return NewActivities(store, ledger, ch, nil, slog.New(slog.DiscardHandler))
}

func strPtr(s string) *string { return &s }

func TestListStalePending(t *testing.T) {
	id := uuid.New()
	created := time.Now().UTC().Add(-time.Hour)
	store := &fakeStore{stale: []*db.Transaction{
		{ID: id, Status: db.StatusPending, CreatedAt: created},
	}}
	acts := newTestActivities(store, newFakeLedger(), &fakeChain{})

	result, err := acts.ListStalePending(context.Background(), ListStalePendingInput{
		MinAge: 10 * time.Minute,
		Limit:  100,
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, id, result.Transactions[0].ID)
	assert.Nil(t, result.Transactions[0].TxHash)
}

func TestReconcileTransaction(t *testing.T) {
	tests := []struct {
		name          string
		input         ReconcileTransactionInput
		receipts      map[string]chain.ReceiptStatus
		wantOutcome   string
		wantConfirmed bool
		wantFailed    bool
	}{
		{
			name: "mined successfully",
			input: ReconcileTransactionInput{
				ID:        uuid.New(),
				TxHash:    strPtr("0xmined"),
				CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
				MaxAge:    time.Hour,
			},
			receipts:      map[string]chain.ReceiptStatus{"0xmined": chain.ReceiptSuccess},
			wantOutcome:   OutcomeConfirmed,
			wantConfirmed: true,
		},
		{
			name: "reverted on chain",
			input: ReconcileTransactionInput{
				ID:        uuid.New(),
				TxHash:    strPtr("0xreverted"),
				CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
				MaxAge:    time.Hour,
			},
			receipts:    map[string]chain.ReceiptStatus{"0xreverted": chain.ReceiptFailed},
			wantOutcome: OutcomeFailed,
			wantFailed:  true,
		},
		{
			name: "broadcast but not yet mined",
			input: ReconcileTransactionInput{
				ID:        uuid.New(),
				TxHash:    strPtr("0xunknown"),
				CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
				MaxAge:    time.Hour,
			},
			wantOutcome: OutcomeStillPending,
		},
		{
			name: "no hash, younger than max age",
			input: ReconcileTransactionInput{
				ID:        uuid.New(),
				CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
				MaxAge:    time.Hour,
			},
			wantOutcome: OutcomeStillPending,
		},
		{
			name: "no hash, abandoned past max age",
			input: ReconcileTransactionInput{
				ID:        uuid.New(),
				CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
				MaxAge:    time.Hour,
			},
			wantOutcome: OutcomeFailed,
			wantFailed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			ch := &fakeChain{receipts: tt.receipts}
			acts := newTestActivities(&fakeStore{}, ledger, ch)

			result, err := acts.ReconcileTransaction(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, result.Outcome)

			if tt.wantConfirmed {
				assert.Contains(t, ledger.confirmed, tt.input.ID)
			} else {
				assert.Empty(t, ledger.confirmed)
			}
			if tt.wantFailed {
				assert.Contains(t, ledger.failed, tt.input.ID)
			} else {
				assert.Empty(t, ledger.failed)
			}
		})
	}
}

func TestReconcileAlreadyFinalIsQuiet(t *testing.T) {
	ledger := newFakeLedger()
	ledger.err = db.ErrAlreadyFinal
	ch := &fakeChain{receipts: map[string]chain.ReceiptStatus{"0xmined": chain.ReceiptSuccess}}
	acts := newTestActivities(&fakeStore{}, ledger, ch)

	result, err := acts.ReconcileTransaction(context.Background(), ReconcileTransactionInput{
		ID:        uuid.New(),
		TxHash:    strPtr("0xmined"),
		CreatedAt: time.Now().UTC().Add(-30 * time.Minute),
		MaxAge:    time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStillPending, result.Outcome)
}
