// Package history converts raw ledger rows into privacy-preserving,
// human-readable views. Internal gas-sponsorship transfers are filtered out
// and raw wallet addresses are never emitted.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/db"
)

// Directions of a transaction relative to the viewing user.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionSelf     = "self"
)

// ErrNotParticipant is returned when a user requests a transaction they are
// neither the sender nor the recipient of.
var ErrNotParticipant = errors.New("user is not a party to this transaction")

// Store is the read-only persistence surface the reconstructor needs.
// *db.Store satisfies it.
type Store interface {
	ListTransactionsForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]*db.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*db.Transaction, error)
	HandleByUserID(ctx context.Context, userID uuid.UUID) (string, error)
	PhoneByUserID(ctx context.Context, userID uuid.UUID) (string, error)
}

// DisplayTransaction is one user-facing history entry.
type DisplayTransaction struct {
	ID            uuid.UUID  `json:"id"`
	Direction     string     `json:"direction"`
	Counterparty  string     `json:"counterparty"`
	Amount        int64      `json:"amount"`
	Token         string     `json:"token"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// Reconstructor builds display views of the ledger for one user at a time.
// It only reads; terminal transitions belong to the settlement path.
type Reconstructor struct {
	store           Store
	relayerAddress  string
	handleSuffix    string
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

// NewReconstructor creates a Reconstructor. relayerAddress identifies the
// sponsoring wallet whose outbound transfers are hidden from users.
func NewReconstructor(store Store, relayerAddress, handleSuffix string, defaultPageSize, maxPageSize int, logger *slog.Logger) *Reconstructor {
	return &Reconstructor{
		store:           store,
		relayerAddress:  strings.ToLower(relayerAddress),
		handleSuffix:    handleSuffix,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          logger,
	}
}

// ListForUser returns one page of userID's history, newest first. page is
// 1-based; pageSize <= 0 uses the default. Rows originating from the relayer
// wallet are dropped before trimming; the fetch is 2x the page size because
// the drop rate is unpredictable.
func (r *Reconstructor) ListForUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]DisplayTransaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = r.defaultPageSize
	}
	if pageSize > r.maxPageSize {
		pageSize = r.maxPageSize
	}

	limit := int32(pageSize * 2)
	offset := int32((page - 1) * pageSize)

	rows, err := r.store.ListTransactionsForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	display := make([]DisplayTransaction, 0, pageSize)
	for _, txn := range rows {
		if strings.EqualFold(txn.FromAddress, r.relayerAddress) {
			continue
		}
		display = append(display, r.toDisplay(ctx, txn, userID))
		if len(display) == pageSize {
			break
		}
	}
	return display, nil
}

// GetForUser returns one transaction in display form. The caller must be a
// party to it; relayer gas top-ups are invisible here just as in listings.
func (r *Reconstructor) GetForUser(ctx context.Context, userID, txID uuid.UUID) (*DisplayTransaction, error) {
	txn, err := r.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(txn.FromAddress, r.relayerAddress) {
		return nil, db.ErrNotFound
	}

	party := (txn.FromUserID != nil && *txn.FromUserID == userID) ||
		(txn.ToUserID != nil && *txn.ToUserID == userID)
	if !party {
		return nil, ErrNotParticipant
	}

	display := r.toDisplay(ctx, txn, userID)
	return &display, nil
}

func (r *Reconstructor) toDisplay(ctx context.Context, txn *db.Transaction, userID uuid.UUID) DisplayTransaction {
	direction := directionFor(txn, userID)

	var cpUserID *uuid.UUID
	var cpAddress string
	switch direction {
	case DirectionSent, DirectionSelf:
		cpUserID = txn.ToUserID
		cpAddress = txn.ToAddress
	case DirectionReceived:
		cpUserID = txn.FromUserID
		cpAddress = txn.FromAddress
	}

	return DisplayTransaction{
		ID:            txn.ID,
		Direction:     direction,
		Counterparty:  r.counterpartyDisplay(ctx, cpUserID, cpAddress),
		Amount:        txn.Amount,
		Token:         txn.Token,
		Status:        txn.Status,
		PaymentMethod: txn.ResolutionMethod,
		TxHash:        txn.TxHash,
		CreatedAt:     txn.CreatedAt,
		ConfirmedAt:   txn.ConfirmedAt,
	}
}

func directionFor(txn *db.Transaction, userID uuid.UUID) string {
	from := txn.FromUserID != nil && *txn.FromUserID == userID
	to := txn.ToUserID != nil && *txn.ToUserID == userID
	switch {
	case from && to:
		return DirectionSelf
	case from:
		return DirectionSent
	default:
		return DirectionReceived
	}
}

// counterpartyDisplay prefers the counterparty's handle, then a masked
// phone number, then a truncated address. Full raw addresses never leave
// this package.
func (r *Reconstructor) counterpartyDisplay(ctx context.Context, cpUserID *uuid.UUID, cpAddress string) string {
	if cpUserID != nil {
		handle, err := r.store.HandleByUserID(ctx, *cpUserID)
		if err == nil {
			return handle + r.handleSuffix
		}
		if !errors.Is(err, db.ErrNotFound) {
			r.logger.WarnContext(ctx, "failed to look up counterparty handle",
				"user_id", *cpUserID, "error", err)
		}

		phone, err := r.store.PhoneByUserID(ctx, *cpUserID)
		if err == nil {
			return maskPhone(phone)
		}
		if !errors.Is(err, db.ErrNotFound) {
			r.logger.WarnContext(ctx, "failed to look up counterparty phone",
				"user_id", *cpUserID, "error", err)
		}
	}
	return truncateAddress(cpAddress)
}

// maskPhone keeps the country-code prefix and last four digits of an E.164
// number, masking the rest.
func maskPhone(phone string) string {
	if len(phone) < 7 {
		return "••••"
	}
	prefix := "+" + countryCode(phone[1:])
	suffix := phone[len(phone)-4:]
	masked := len(phone) - len(prefix) - len(suffix)
	if masked < 1 {
		masked = 1
	}
	return prefix + strings.Repeat("•", masked) + suffix
}

// twoDigitCountryCodes is the fixed E.164 allocation of two-digit codes.
// One-digit codes are +1 and +7; everything else is three digits.
var twoDigitCountryCodes = map[string]bool{
	"20": true, "27": true,
	"30": true, "31": true, "32": true, "33": true, "34": true, "36": true, "39": true,
	"40": true, "41": true, "43": true, "44": true, "45": true, "46": true, "47": true,
	"48": true, "49": true,
	"51": true, "52": true, "53": true, "54": true, "55": true, "56": true, "57": true,
	"58": true,
	"60": true, "61": true, "62": true, "63": true, "64": true, "65": true, "66": true,
	"81": true, "82": true, "84": true, "86": true,
	"90": true, "91": true, "92": true, "93": true, "94": true, "95": true, "98": true,
}

func countryCode(digits string) string {
	if digits == "" {
		return digits
	}
	switch digits[0] {
	case '1', '7':
		return digits[:1]
	}
	if len(digits) >= 2 && twoDigitCountryCodes[digits[:2]] {
		return digits[:2]
	}
	if len(digits) >= 3 {
		return digits[:3]
	}
	return digits
}

// truncateAddress renders an address as its first six and last four
// characters, e.g. "0x1234…abcd".
func truncateAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
