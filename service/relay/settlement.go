package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/metrics"
)

// Settlement errors, distinguished so the ledger can record which leg failed.
var (
	// ErrSponsorLegFailed means the gas top-up submission itself failed;
	// the token transfer was never attempted.
	ErrSponsorLegFailed = errors.New("gas top-up submission failed")

	// ErrTransferFailed means the token transfer submission failed. When the
	// request was sponsored, the top-up was already broadcast and is not
	// rolled back.
	ErrTransferFailed = errors.New("token transfer submission failed")
)

// ExecuteParams describes one settlement to run.
type ExecuteParams struct {
	Sender        common.Address
	Recipient     common.Address
	TokenContract common.Address
	Amount        *big.Int
	Decision      *Decision
}

// Result is the settlement outcome. On ErrTransferFailed after a sponsored
// leg, Result is still returned so the caller can record the top-up hash.
type Result struct {
	TopupTxHash    *string
	TransferTxHash string
	Sponsored      bool
}

// Settlement submits the one or two on-chain transactions that settle a
// transfer: an optional gas top-up from the relayer, then the token transfer
// from the sender's wallet. Neither submission is awaited to confirmation;
// the contract is "both broadcast", and per-account nonce ordering guarantees
// the top-up lands before any later relayer work.
type Settlement struct {
	chain   *chain.Client
	custody chain.Custody
	relayer *chain.Signer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// The relayer's nonce is a hard serialization point across concurrent
	// settlements sharing the wallet.
	relayerMu sync.Mutex
}

// NewSettlement creates a Settlement using relayer as the sponsoring wallet.
func NewSettlement(c *chain.Client, custody chain.Custody, relayer *chain.Signer, m *metrics.Metrics, logger *slog.Logger) *Settlement {
	return &Settlement{
		chain:   c,
		custody: custody,
		relayer: relayer,
		logger:  logger,
		metrics: m,
	}
}

// RelayerAddress returns the sponsoring wallet's address.
func (s *Settlement) RelayerAddress() common.Address {
	return s.relayer.Address()
}

// Execute runs the settlement protocol for one transfer. The top-up, when
// needed, is submitted first and NOT awaited; the token transfer follows
// immediately. Waiting for the top-up receipt would cost 10-20 seconds and
// blow the caller's request budget, while nonce ordering already guarantees
// the funds arrive ahead of the transfer being mined.
func (s *Settlement) Execute(ctx context.Context, params ExecuteParams) (*Result, error) {
	start := time.Now()
	decision := params.Decision
	result := &Result{Sponsored: decision.Sponsored}

	if decision.Sponsored {
		hash, err := s.submitTopup(ctx, params.Sender, decision)
		if err != nil {
			s.recordSettlement("sponsor_leg_failed", decision.Sponsored, start)
			return nil, fmt.Errorf("%w: %v", ErrSponsorLegFailed, err)
		}
		result.TopupTxHash = &hash
	}

	signer, err := s.custody.SignerFor(ctx, params.Sender)
	if err != nil {
		s.recordSettlement("transfer_failed", decision.Sponsored, start)
		return result, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	nonce, err := s.chain.PendingNonce(ctx, params.Sender)
	if err != nil {
		s.recordSettlement("transfer_failed", decision.Sponsored, start)
		return result, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	transferHash, err := s.chain.SendToken(ctx, signer,
		params.TokenContract, params.Recipient, params.Amount, nonce, decision.GasPrice)
	if err != nil {
		s.recordSettlement("transfer_failed", decision.Sponsored, start)
		return result, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	result.TransferTxHash = transferHash

	s.logger.InfoContext(ctx, "settlement submitted",
		"sender", params.Sender.Hex(),
		"recipient", params.Recipient.Hex(),
		"transfer_tx_hash", transferHash,
		"sponsored", decision.Sponsored,
	)
	s.recordSettlement("submitted", decision.Sponsored, start)
	return result, nil
}

func (s *Settlement) submitTopup(ctx context.Context, sender common.Address, decision *Decision) (string, error) {
	s.relayerMu.Lock()
	defer s.relayerMu.Unlock()

	nonce, err := s.chain.PendingNonce(ctx, s.relayer.Address())
	if err != nil {
		return "", err
	}
	hash, err := s.chain.SendNative(ctx, s.relayer, sender, decision.TopupWei, nonce, decision.GasPrice)
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "gas top-up submitted",
		"sender", sender.Hex(),
		"topup_tx_hash", hash,
		"topup_wei", decision.TopupWei.String(),
	)
	return hash, nil
}

func (s *Settlement) recordSettlement(status string, sponsored bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSettlement(status, sponsored, time.Since(start).Seconds())
	}
}
