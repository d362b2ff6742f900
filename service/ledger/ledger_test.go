package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/notify"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
)

var (
	senderAddr    = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
	usdcContract  = common.HexToAddress("0x3333333333333333333333333333333333333333")

	testGasPrice = big.NewInt(30_000_000_000)
)

// fakeStore is an in-memory Store enforcing the same terminal-transition
// rules as the real one.
type fakeStore struct {
	wallets map[uuid.UUID]*db.Wallet
	txns    map[uuid.UUID]*db.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets: make(map[uuid.UUID]*db.Wallet),
		txns:    make(map[uuid.UUID]*db.Transaction),
	}
}

func (f *fakeStore) CreateTransaction(_ context.Context, params db.CreateTransactionParams) (*db.Transaction, error) {
	txn := &db.Transaction{
		ID:               uuid.New(),
		FromAddress:      params.FromAddress,
		ToAddress:        params.ToAddress,
		FromUserID:       params.FromUserID,
		ToUserID:         params.ToUserID,
		Amount:           params.Amount,
		Token:            params.Token,
		FeeWei:           params.FeeWei,
		Status:           db.StatusPending,
		ResolutionMethod: params.ResolutionMethod,
		CreatedAt:        time.Now().UTC(),
	}
	f.txns[txn.ID] = txn
	return txn, nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id uuid.UUID) (*db.Transaction, error) {
	txn, ok := f.txns[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return txn, nil
}

func (f *fakeStore) MarkTransactionConfirmed(_ context.Context, id uuid.UUID, txHash string, sponsorTxHash *string) (*db.Transaction, error) {
	txn, ok := f.txns[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if txn.Status != db.StatusPending {
		return nil, db.ErrAlreadyFinal
	}
	now := time.Now().UTC()
	txn.Status = db.StatusConfirmed
	txn.TxHash = &txHash
	if sponsorTxHash != nil {
		txn.GasSponsorTxHash = sponsorTxHash
	}
	txn.ConfirmedAt = &now
	return txn, nil
}

func (f *fakeStore) MarkTransactionFailed(_ context.Context, id uuid.UUID, reason string, sponsorTxHash *string) (*db.Transaction, error) {
	txn, ok := f.txns[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if txn.Status != db.StatusPending {
		return nil, db.ErrAlreadyFinal
	}
	txn.Status = db.StatusFailed
	txn.ErrorMessage = &reason
	if sponsorTxHash != nil {
		txn.GasSponsorTxHash = sponsorTxHash
	}
	return txn, nil
}

func (f *fakeStore) GetWalletByUserID(_ context.Context, userID uuid.UUID, _ int64) (*db.Wallet, error) {
	w, ok := f.wallets[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return w, nil
}

type fakeResolver struct {
	resolved *resolver.Resolved
	err      error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (*resolver.Resolved, error) {
	return f.resolved, f.err
}

type fakeDecider struct {
	decision *relay.Decision
	err      error
}

func (f *fakeDecider) Decide(_ context.Context, _ common.Address) (*relay.Decision, error) {
	return f.decision, f.err
}

type fakeSettler struct {
	result *relay.Result
	err    error
	calls  int
}

func (f *fakeSettler) Execute(_ context.Context, _ relay.ExecuteParams) (*relay.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeBalancer struct {
	balance *big.Int
	err     error
}

func (f *fakeBalancer) TokenBalance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return f.balance, f.err
}

type env struct {
	store     *fakeStore
	resolver  *fakeResolver
	decider   *fakeDecider
	settler   *fakeSettler
	balancer  *fakeBalancer
	publisher *notify.MockPublisher
	svc       *Service

	senderID    uuid.UUID
	recipientID uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store:       newFakeStore(),
		publisher:   notify.NewMockPublisher(),
		balancer:    &fakeBalancer{balance: big.NewInt(10_000_000)}, // 10 USDC
		senderID:    uuid.New(),
		recipientID: uuid.New(),
	}
	e.store.wallets[e.senderID] = &db.Wallet{
		UserID:  e.senderID,
		Address: senderAddr,
		ChainID: 80002,
	}

	recipientID := e.recipientID
	e.resolver = &fakeResolver{resolved: &resolver.Resolved{
		WalletAddress: recipientAddr,
		UserID:        &recipientID,
		Method:        db.MethodHandle,
	}}
	e.decider = &fakeDecider{decision: &relay.Decision{Sponsored: false, GasPrice: testGasPrice}}

	transferHash := "0xtransfer"
	e.settler = &fakeSettler{result: &relay.Result{TransferTxHash: transferHash}}

	e.svc = NewService(
		e.store, e.resolver, e.decider, e.settler, e.balancer, e.publisher,
		map[string]common.Address{"USDC": usdcContract},
		80002, nil, slog.New(slog.DiscardHandler),
	)
	return e
}

func submitParams(e *env) SubmitParams {
	return SubmitParams{
		SenderUserID: e.senderID,
		Recipient:    "alice@caja",
		Amount:       1_000_000,
		Token:        "USDC",
	}
}

func TestSubmitConfirmed(t *testing.T) {
	e := newEnv(t)

	result, err := e.svc.Submit(context.Background(), submitParams(e))
	require.NoError(t, err)

	assert.False(t, result.Sponsored)
	assert.Equal(t, db.StatusConfirmed, result.Transaction.Status)
	require.NotNil(t, result.Transaction.TxHash)
	assert.Equal(t, "0xtransfer", *result.Transaction.TxHash)
	assert.NotNil(t, result.Transaction.ConfirmedAt)

	// Sender and platform-user recipient each get exactly one event.
	senderEvents := e.publisher.GetPublishedEventsForUser(e.senderID)
	require.Len(t, senderEvents, 1)
	assert.Equal(t, notify.KindTransactionConfirmed, senderEvents[0].Kind)

	recipientEvents := e.publisher.GetPublishedEventsForUser(e.recipientID)
	require.Len(t, recipientEvents, 1)
	assert.Equal(t, notify.KindTransactionReceived, recipientEvents[0].Kind)
}

func TestSubmitSponsored(t *testing.T) {
	e := newEnv(t)
	topupHash := "0xtopup"
	e.decider.decision = &relay.Decision{
		Sponsored: true,
		TopupWei:  big.NewInt(3_600_000_000_000_000),
		GasPrice:  testGasPrice,
	}
	e.settler.result = &relay.Result{
		TopupTxHash:    &topupHash,
		TransferTxHash: "0xtransfer",
		Sponsored:      true,
	}

	result, err := e.svc.Submit(context.Background(), submitParams(e))
	require.NoError(t, err)

	assert.True(t, result.Sponsored)
	require.NotNil(t, result.TopupTxHash)
	assert.Equal(t, topupHash, *result.TopupTxHash)
	require.NotNil(t, result.Transaction.GasSponsorTxHash)
	assert.Equal(t, topupHash, *result.Transaction.GasSponsorTxHash)
}

func TestSubmitAnonymousRecipient(t *testing.T) {
	e := newEnv(t)
	e.resolver.resolved = &resolver.Resolved{
		WalletAddress: recipientAddr,
		Method:        db.MethodWallet,
	}

	result, err := e.svc.Submit(context.Background(), submitParams(e))
	require.NoError(t, err)

	assert.Nil(t, result.Transaction.ToUserID)
	// Only the sender is notified; there is no platform recipient.
	require.Len(t, e.publisher.GetPublishedEvents(), 1)
}

func TestSubmitValidationFailuresLeaveNoRow(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *env, p *SubmitParams)
		wantErr error
	}{
		{
			name:    "zero amount",
			mutate:  func(e *env, p *SubmitParams) { p.Amount = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unsupported token",
			mutate:  func(e *env, p *SubmitParams) { p.Token = "DOGE" },
			wantErr: ErrUnsupportedToken,
		},
		{
			name:    "sender has no wallet",
			mutate:  func(e *env, p *SubmitParams) { p.SenderUserID = uuid.New() },
			wantErr: ErrNoWallet,
		},
		{
			name:    "recipient not found",
			mutate:  func(e *env, p *SubmitParams) { e.resolver.err = resolver.ErrNotFound },
			wantErr: resolver.ErrNotFound,
		},
		{
			name:    "self transfer",
			mutate:  func(e *env, p *SubmitParams) { e.resolver.err = resolver.ErrSelfTransfer },
			wantErr: resolver.ErrSelfTransfer,
		},
		{
			name:    "insufficient token balance",
			mutate:  func(e *env, p *SubmitParams) { e.balancer.balance = big.NewInt(999) },
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "sponsorship unavailable",
			mutate:  func(e *env, p *SubmitParams) { e.decider.err = relay.ErrSponsorshipUnavailable },
			wantErr: relay.ErrSponsorshipUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			params := submitParams(e)
			tt.mutate(e, &params)

			_, err := e.svc.Submit(context.Background(), params)
			assert.ErrorIs(t, err, tt.wantErr)

			// No PENDING row left behind, no settlement attempted, no events.
			assert.Empty(t, e.store.txns)
			assert.Zero(t, e.settler.calls)
			assert.Empty(t, e.publisher.GetPublishedEvents())
		})
	}
}

func TestSubmitTransferFailedAfterTopup(t *testing.T) {
	e := newEnv(t)
	topupHash := "0xtopup"
	e.decider.decision = &relay.Decision{
		Sponsored: true,
		TopupWei:  big.NewInt(3_600_000_000_000_000),
		GasPrice:  testGasPrice,
	}
	e.settler.result = &relay.Result{TopupTxHash: &topupHash, Sponsored: true}
	e.settler.err = fmt.Errorf("%w: replacement transaction underpriced", relay.ErrTransferFailed)

	_, err := e.svc.Submit(context.Background(), submitParams(e))
	assert.ErrorIs(t, err, ErrChainSubmission)
	// Raw chain error strings are wrapped, never surfaced.
	assert.NotContains(t, err.Error(), "underpriced")

	require.Len(t, e.store.txns, 1)
	for _, txn := range e.store.txns {
		assert.Equal(t, db.StatusFailed, txn.Status)
		require.NotNil(t, txn.ErrorMessage)
		assert.Contains(t, *txn.ErrorMessage, "already broadcast")
		require.NotNil(t, txn.GasSponsorTxHash)
		assert.Equal(t, topupHash, *txn.GasSponsorTxHash)
		assert.Nil(t, txn.TxHash)
	}

	senderEvents := e.publisher.GetPublishedEventsForUser(e.senderID)
	require.Len(t, senderEvents, 1)
	assert.Equal(t, notify.KindTransactionFailed, senderEvents[0].Kind)
	// The recipient never hears about failed transfers.
	assert.Empty(t, e.publisher.GetPublishedEventsForUser(e.recipientID))
}

func TestSubmitSponsorLegFailed(t *testing.T) {
	e := newEnv(t)
	e.decider.decision = &relay.Decision{
		Sponsored: true,
		TopupWei:  big.NewInt(3_600_000_000_000_000),
		GasPrice:  testGasPrice,
	}
	e.settler.result = nil
	e.settler.err = fmt.Errorf("%w: nonce too low", relay.ErrSponsorLegFailed)

	_, err := e.svc.Submit(context.Background(), submitParams(e))
	assert.ErrorIs(t, err, ErrChainSubmission)

	require.Len(t, e.store.txns, 1)
	for _, txn := range e.store.txns {
		assert.Equal(t, db.StatusFailed, txn.Status)
		require.NotNil(t, txn.ErrorMessage)
		assert.Contains(t, *txn.ErrorMessage, "sponsorship")
		assert.Nil(t, txn.GasSponsorTxHash)
	}
}

func TestTerminalTransitionIsExclusive(t *testing.T) {
	e := newEnv(t)

	txn, err := e.store.CreateTransaction(context.Background(), db.CreateTransactionParams{
		FromAddress: senderAddr,
		ToAddress:   recipientAddr,
		FromUserID:  &e.senderID,
		Amount:      1,
		Token:       "USDC",
	})
	require.NoError(t, err)

	_, err = e.svc.MarkConfirmed(context.Background(), txn.ID, "0xfirst", nil)
	require.NoError(t, err)
	require.Len(t, e.publisher.GetPublishedEvents(), 1)

	// Repeated terminal transitions are rejected and publish nothing.
	_, err = e.svc.MarkConfirmed(context.Background(), txn.ID, "0xsecond", nil)
	assert.ErrorIs(t, err, db.ErrAlreadyFinal)
	_, err = e.svc.MarkFailed(context.Background(), txn.ID, "late failure", nil)
	assert.ErrorIs(t, err, db.ErrAlreadyFinal)

	assert.Len(t, e.publisher.GetPublishedEvents(), 1)
	assert.Equal(t, "0xfirst", *e.store.txns[txn.ID].TxHash)
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	e := newEnv(t)
	e.publisher.SetPublishError(errors.New("nats unavailable"))

	result, err := e.svc.Submit(context.Background(), submitParams(e))
	require.NoError(t, err)
	assert.Equal(t, db.StatusConfirmed, result.Transaction.Status)
}
