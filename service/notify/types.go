package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/db"
)

// Event kinds delivered to users when a transaction reaches a terminal state.
const (
	KindTransactionConfirmed = "transaction_confirmed"
	KindTransactionFailed    = "transaction_failed"
	KindTransactionReceived  = "transaction_received"
)

// Event is a settlement notification published to NATS.
// It is published to the subject "notify.{user_id}" in JetStream; downstream
// consumers (push, SMS) handle delivery.
type Event struct {
	UserID        uuid.UUID `json:"user_id"`
	Kind          string    `json:"kind"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Token         string    `json:"token"`
	Status        string    `json:"status"`
	TxHash        *string   `json:"tx_hash,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// SenderEvent builds the event dispatched to the sender of txn after its
// terminal transition.
func SenderEvent(txn *db.Transaction, userID uuid.UUID) *Event {
	kind := KindTransactionConfirmed
	if txn.Status == db.StatusFailed {
		kind = KindTransactionFailed
	}
	return &Event{
		UserID:        userID,
		Kind:          kind,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Token:         txn.Token,
		Status:        txn.Status,
		TxHash:        txn.TxHash,
		ErrorMessage:  txn.ErrorMessage,
		PublishedAt:   time.Now().UTC(),
	}
}

// RecipientEvent builds the event dispatched to a platform-user recipient
// when a transfer to them confirms.
func RecipientEvent(txn *db.Transaction, userID uuid.UUID) *Event {
	return &Event{
		UserID:        userID,
		Kind:          KindTransactionReceived,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Token:         txn.Token,
		Status:        txn.Status,
		TxHash:        txn.TxHash,
		PublishedAt:   time.Now().UTC(),
	}
}
