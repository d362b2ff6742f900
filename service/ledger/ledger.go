// Package ledger coordinates the full settlement path for one transfer:
// resolve the recipient, decide on gas sponsorship, persist a PENDING row,
// run the on-chain settlement, and drive the row to exactly one terminal
// state with a post-commit notification.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/db"
	"github.com/caja-cash/caja/service/metrics"
	"github.com/caja-cash/caja/service/notify"
	"github.com/caja-cash/caja/service/relay"
	"github.com/caja-cash/caja/service/resolver"
)

// Errors surfaced to the API layer. Resolution and sponsorship failures
// occur before any ledger row exists; submission failures always leave the
// row FAILED with a captured reason.
var (
	// ErrUnsupportedToken is returned for a token symbol with no configured
	// contract on this chain.
	ErrUnsupportedToken = errors.New("unsupported token")

	// ErrInsufficientBalance is returned when the sender's token balance
	// cannot cover the transfer amount.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrNoWallet is returned when the sending user has no wallet on this chain.
	ErrNoWallet = errors.New("sender has no wallet")

	// ErrInvalidAmount is returned for zero or negative transfer amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrChainSubmission wraps any on-chain submission failure after the
	// ledger row was created. Raw chain errors are recorded on the row,
	// never surfaced verbatim.
	ErrChainSubmission = errors.New("chain submission failed")
)

// Store is the ledger's persistence surface. *db.Store satisfies it.
type Store interface {
	CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*db.Transaction, error)
	MarkTransactionConfirmed(ctx context.Context, id uuid.UUID, txHash string, sponsorTxHash *string) (*db.Transaction, error)
	MarkTransactionFailed(ctx context.Context, id uuid.UUID, reason string, sponsorTxHash *string) (*db.Transaction, error)
	GetWalletByUserID(ctx context.Context, userID uuid.UUID, chainID int64) (*db.Wallet, error)
}

// RecipientResolver maps a raw identifier to a wallet address.
// *resolver.Resolver satisfies it.
type RecipientResolver interface {
	Resolve(ctx context.Context, raw, senderAddress string) (*resolver.Resolved, error)
}

// Decider decides whether the sender needs a gas top-up.
// *relay.Decider satisfies it.
type Decider interface {
	Decide(ctx context.Context, sender common.Address) (*relay.Decision, error)
}

// Settler runs the on-chain settlement protocol. *relay.Settlement satisfies it.
type Settler interface {
	Execute(ctx context.Context, params relay.ExecuteParams) (*relay.Result, error)
}

// TokenBalancer reads ERC-20 balances. *chain.Client satisfies it.
type TokenBalancer interface {
	TokenBalance(ctx context.Context, tokenContract, owner common.Address) (*big.Int, error)
}

// Service is the transaction ledger state machine plus the request
// orchestration around it.
type Service struct {
	store      Store
	resolver   RecipientResolver
	decider    Decider
	settlement Settler
	balances   TokenBalancer
	publisher  notify.Publisher
	tokens     map[string]common.Address
	chainID    int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewService creates a ledger service. tokens maps token symbols to their
// contract addresses on the configured chain. If m is nil, no metrics are
// recorded.
func NewService(
	store Store,
	res RecipientResolver,
	decider Decider,
	settlement Settler,
	balances TokenBalancer,
	publisher notify.Publisher,
	tokens map[string]common.Address,
	chainID int64,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		resolver:   res,
		decider:    decider,
		settlement: settlement,
		balances:   balances,
		publisher:  publisher,
		tokens:     tokens,
		chainID:    chainID,
		metrics:    m,
		logger:     logger,
	}
}

// SubmitParams is one transfer request from an authenticated sender.
type SubmitParams struct {
	SenderUserID uuid.UUID
	Recipient    string
	Amount       int64 // token base units
	Token        string
}

// SubmitResult is the accepted-request response.
type SubmitResult struct {
	Transaction *db.Transaction
	Sponsored   bool
	TopupTxHash *string
}

// Submit runs the full settlement path for one transfer. All validation
// (recipient, token, balances, sponsorship funding) happens before the
// PENDING row is created; once the row exists it always reaches exactly one
// terminal state before Submit returns.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tokenContract, err := s.tokenContract(params.Token)
	if err != nil {
		return nil, err
	}

	wallet, err := s.store.GetWalletByUserID(ctx, params.SenderUserID, s.chainID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoWallet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sender wallet: %w", err)
	}
	sender := common.HexToAddress(wallet.Address)

	resolved, err := s.resolver.Resolve(ctx, params.Recipient, wallet.Address)
	if err != nil {
		return nil, err
	}

	balance, err := s.balances.TokenBalance(ctx, tokenContract, sender)
	if err != nil {
		return nil, fmt.Errorf("failed to read sender token balance: %w", err)
	}
	if balance.Cmp(big.NewInt(params.Amount)) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %d", ErrInsufficientBalance, balance.String(), params.Amount)
	}

	decision, err := s.decider.Decide(ctx, sender)
	if err != nil {
		return nil, err
	}

	feeWei := new(big.Int).Mul(decision.GasPrice, new(big.Int).SetUint64(chain.GasLimitTokenTransfer))

	txn, err := s.store.CreateTransaction(ctx, db.CreateTransactionParams{
		FromAddress:      wallet.Address,
		ToAddress:        resolved.WalletAddress,
		FromUserID:       &params.SenderUserID,
		ToUserID:         resolved.UserID,
		Amount:           params.Amount,
		Token:            params.Token,
		FeeWei:           feeWei.Int64(),
		ResolutionMethod: resolved.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger row: %w", err)
	}
	s.logger.InfoContext(ctx, "transaction accepted",
		"transaction_id", txn.ID,
		"from", wallet.Address,
		"amount", params.Amount,
		"token", params.Token,
		"sponsored", decision.Sponsored,
	)

	result, err := s.settlement.Execute(ctx, relay.ExecuteParams{
		Sender:        sender,
		Recipient:     common.HexToAddress(resolved.WalletAddress),
		TokenContract: tokenContract,
		Amount:        big.NewInt(params.Amount),
		Decision:      decision,
	})
	if err != nil {
		return nil, s.failSubmission(ctx, txn.ID, result, err)
	}

	confirmed, err := s.MarkConfirmed(ctx, txn.ID, result.TransferTxHash, result.TopupTxHash)
	if err != nil {
		// The transfer is broadcast; the reconciliation sweep will settle
		// the row from chain state if this write was the casualty.
		s.logger.ErrorContext(ctx, "failed to persist terminal transition",
			"transaction_id", txn.ID,
			"transfer_tx_hash", result.TransferTxHash,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record confirmation: %w", err)
	}

	return &SubmitResult{
		Transaction: confirmed,
		Sponsored:   result.Sponsored,
		TopupTxHash: result.TopupTxHash,
	}, nil
}

// failSubmission drives the row to FAILED with a reason that never leaks
// raw chain error strings, and preserves the top-up hash when the sponsored
// leg was already broadcast.
func (s *Service) failSubmission(ctx context.Context, id uuid.UUID, partial *relay.Result, cause error) error {
	var reason string
	var sponsorHash *string
	switch {
	case errors.Is(cause, relay.ErrSponsorLegFailed):
		reason = "gas sponsorship transfer failed"
	case errors.Is(cause, relay.ErrTransferFailed) && partial != nil && partial.TopupTxHash != nil:
		reason = "token transfer failed; sponsored gas top-up was already broadcast"
		sponsorHash = partial.TopupTxHash
	default:
		reason = "token transfer submission failed"
	}

	if _, err := s.MarkFailed(ctx, id, reason, sponsorHash); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark transaction failed",
			"transaction_id", id,
			"reason", reason,
			"error", err,
		)
	}
	return fmt.Errorf("%w: %s", ErrChainSubmission, reason)
}

// MarkConfirmed transitions a PENDING row to CONFIRMED and dispatches
// notifications after the transition is durably persisted. Terminal rows
// are never mutated; db.ErrAlreadyFinal is returned instead.
func (s *Service) MarkConfirmed(ctx context.Context, id uuid.UUID, txHash string, sponsorTxHash *string) (*db.Transaction, error) {
	txn, err := s.store.MarkTransactionConfirmed(ctx, id, txHash, sponsorTxHash)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordLedgerTransition(db.StatusConfirmed)
	}
	s.dispatchNotifications(ctx, txn)
	return txn, nil
}

// MarkFailed transitions a PENDING row to FAILED and dispatches
// notifications after the transition is durably persisted.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string, sponsorTxHash *string) (*db.Transaction, error) {
	txn, err := s.store.MarkTransactionFailed(ctx, id, reason, sponsorTxHash)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordLedgerTransition(db.StatusFailed)
	}
	s.dispatchNotifications(ctx, txn)
	return txn, nil
}

// dispatchNotifications attempts exactly one dispatch per terminal
// transition: the sender always, the recipient only when they are a
// platform user and the transfer confirmed. Failures are logged, never
// propagated, never synchronously retried.
func (s *Service) dispatchNotifications(ctx context.Context, txn *db.Transaction) {
	if txn.FromUserID != nil {
		s.publish(ctx, notify.SenderEvent(txn, *txn.FromUserID))
	}
	if txn.Status == db.StatusConfirmed && txn.ToUserID != nil &&
		(txn.FromUserID == nil || *txn.ToUserID != *txn.FromUserID) {
		s.publish(ctx, notify.RecipientEvent(txn, *txn.ToUserID))
	}
}

func (s *Service) publish(ctx context.Context, event *notify.Event) {
	start := time.Now()
	err := s.publisher.Publish(ctx, event)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.ErrorContext(ctx, "failed to publish notification",
			"kind", event.Kind,
			"transaction_id", event.TransactionID,
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.RecordNotificationPublish(event.Kind, status, time.Since(start).Seconds())
	}
}

func (s *Service) tokenContract(symbol string) (common.Address, error) {
	contract, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnsupportedToken, symbol)
	}
	return contract, nil
}
