package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyFinal is returned when a terminal transition is attempted
	// on a transaction that already reached CONFIRMED or FAILED.
	ErrAlreadyFinal = errors.New("transaction already in a terminal state")
)

// Transaction status values. A transaction starts PENDING and moves to
// exactly one of CONFIRMED or FAILED; terminal rows are never mutated again.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
)

// Resolution methods recorded at transaction creation time.
const (
	MethodHandle = "handle"
	MethodPhone  = "phone"
	MethodWallet = "wallet"
)

// Store provides database operations for the settlement service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. All statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Transaction is a ledger row for a token transfer.
type Transaction struct {
	ID               uuid.UUID
	FromAddress      string
	ToAddress        string
	FromUserID       *uuid.UUID
	ToUserID         *uuid.UUID
	Amount           int64 // token base units (e.g. USDC has 6 decimals)
	Token            string
	FeeWei           int64
	Status           string
	TxHash           *string
	GasSponsorTxHash *string
	ResolutionMethod string
	ErrorMessage     *string
	CreatedAt        time.Time
	ConfirmedAt      *time.Time
}

// CreateTransactionParams contains the parameters for creating a PENDING ledger row.
type CreateTransactionParams struct {
	FromAddress      string
	ToAddress        string
	FromUserID       *uuid.UUID
	ToUserID         *uuid.UUID
	Amount           int64
	Token            string
	FeeWei           int64
	ResolutionMethod string
}

const transactionColumns = `id, from_address, to_address, from_user_id, to_user_id, amount, token,
	fee_wei, status, tx_hash, gas_sponsor_tx_hash, resolution_method, error_message, created_at, confirmed_at`

// CreateTransaction inserts a new PENDING transaction into the ledger.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	query := `
		INSERT INTO transactions (id, from_address, to_address, from_user_id, to_user_id,
			amount, token, fee_wei, status, resolution_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', $9)
		RETURNING ` + transactionColumns

	row := s.pool.QueryRow(ctx, query,
		pgUUID(uuid.New()),
		params.FromAddress,
		params.ToAddress,
		pgUUIDPtr(params.FromUserID),
		pgUUIDPtr(params.ToUserID),
		params.Amount,
		params.Token,
		params.FeeWei,
		params.ResolutionMethod,
	)
	return scanTransaction(row)
}

// GetTransaction retrieves a transaction by its ID.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	txn, err := scanTransaction(s.pool.QueryRow(ctx, query, pgUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return txn, err
}

// MarkTransactionConfirmed transitions a PENDING transaction to CONFIRMED.
// Returns ErrAlreadyFinal if the row already reached a terminal state and
// ErrNotFound if no such row exists.
func (s *Store) MarkTransactionConfirmed(ctx context.Context, id uuid.UUID, txHash string, sponsorTxHash *string) (*Transaction, error) {
	query := `
		UPDATE transactions
		SET status = 'CONFIRMED', tx_hash = $2,
			gas_sponsor_tx_hash = COALESCE($3, gas_sponsor_tx_hash), confirmed_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + transactionColumns

	txn, err := scanTransaction(s.pool.QueryRow(ctx, query, pgUUID(id), txHash, sponsorTxHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.terminalConflict(ctx, id)
	}
	return txn, err
}

// MarkTransactionFailed transitions a PENDING transaction to FAILED with a reason.
// The sponsor hash, if any, is preserved so partial failures remain auditable.
// Returns ErrAlreadyFinal if the row already reached a terminal state.
func (s *Store) MarkTransactionFailed(ctx context.Context, id uuid.UUID, reason string, sponsorTxHash *string) (*Transaction, error) {
	query := `
		UPDATE transactions
		SET status = 'FAILED', error_message = $2,
			gas_sponsor_tx_hash = COALESCE($3, gas_sponsor_tx_hash)
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + transactionColumns

	txn, err := scanTransaction(s.pool.QueryRow(ctx, query, pgUUID(id), reason, sponsorTxHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.terminalConflict(ctx, id)
	}
	return txn, err
}

// terminalConflict distinguishes a missing row from an already-terminal one.
func (s *Store) terminalConflict(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, pgUUID(id)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", ErrAlreadyFinal, status)
}

// ListTransactionsForUser retrieves ledger rows where the user is sender or
// recipient, newest first.
func (s *Store) ListTransactionsForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, pgUUID(userID), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListStalePendingTransactions retrieves PENDING rows created before the
// given cutoff, oldest first. Used by the reconciliation sweep.
func (s *Store) ListStalePendingTransactions(ctx context.Context, before time.Time, limit int32) ([]*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, pgtype.Timestamptz{Time: before, Valid: true}, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// User is a minimal identity row backing phone-number resolution.
type User struct {
	ID        uuid.UUID
	Phone     *string
	CreatedAt time.Time
}

// CreateUser inserts a user with an optional phone number.
func (s *Store) CreateUser(ctx context.Context, phone *string) (*User, error) {
	user := &User{}
	var pgID pgtype.UUID
	var pgPhone pgtype.Text
	var createdAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, phone) VALUES ($1, $2) RETURNING id, phone, created_at`,
		pgUUID(uuid.New()), phone,
	).Scan(&pgID, &pgPhone, &createdAt)
	if err != nil {
		return nil, err
	}
	user.ID = uuid.UUID(pgID.Bytes)
	user.Phone = textPtr(pgPhone)
	user.CreatedAt = createdAt.Time
	return user, nil
}

// Wallet is a custodial wallet row. One per user per chain; the address is
// immutable once created.
type Wallet struct {
	Address   string
	UserID    uuid.UUID
	ChainID   int64
	CreatedAt time.Time
}

// CreateWallet registers a custodial wallet for a user.
func (s *Store) CreateWallet(ctx context.Context, userID uuid.UUID, address string, chainID int64) (*Wallet, error) {
	w := &Wallet{}
	var pgID pgtype.UUID
	var createdAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx,
		`INSERT INTO wallets (address, user_id, chain_id) VALUES ($1, $2, $3)
		 RETURNING address, user_id, chain_id, created_at`,
		address, pgUUID(userID), chainID,
	).Scan(&w.Address, &pgID, &w.ChainID, &createdAt)
	if err != nil {
		return nil, err
	}
	w.UserID = uuid.UUID(pgID.Bytes)
	w.CreatedAt = createdAt.Time
	return w, nil
}

// GetWalletByUserID retrieves a user's wallet on a chain.
func (s *Store) GetWalletByUserID(ctx context.Context, userID uuid.UUID, chainID int64) (*Wallet, error) {
	w := &Wallet{}
	var pgID pgtype.UUID
	var createdAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx,
		`SELECT address, user_id, chain_id, created_at FROM wallets WHERE user_id = $1 AND chain_id = $2`,
		pgUUID(userID), chainID,
	).Scan(&w.Address, &pgID, &w.ChainID, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.UserID = uuid.UUID(pgID.Bytes)
	w.CreatedAt = createdAt.Time
	return w, nil
}

// UserIDByWalletAddress returns the owning user for a wallet address, or
// ErrNotFound for anonymous (external) addresses.
func (s *Store) UserIDByWalletAddress(ctx context.Context, address string) (uuid.UUID, error) {
	var pgID pgtype.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM wallets WHERE lower(address) = lower($1)`, address,
	).Scan(&pgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(pgID.Bytes), nil
}

// HandleEntry is a row in the handle registry mapping a human-readable alias
// to a custodial wallet address.
type HandleEntry struct {
	UserID        uuid.UUID
	Handle        string
	WalletAddress string
	Active        bool
}

// UpsertHandle binds a handle to a user's wallet address.
func (s *Store) UpsertHandle(ctx context.Context, userID uuid.UUID, handle, walletAddress string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO handles (user_id, handle, wallet_address)
		 VALUES ($1, lower($2), $3)
		 ON CONFLICT (user_id) DO UPDATE SET handle = lower($2), wallet_address = $3, active = true`,
		pgUUID(userID), handle, walletAddress,
	)
	return err
}

// LookupHandle resolves an active handle to its owner and wallet address.
func (s *Store) LookupHandle(ctx context.Context, handle string) (*HandleEntry, error) {
	entry := &HandleEntry{}
	var pgID pgtype.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, handle, wallet_address, active FROM handles
		 WHERE handle = lower($1) AND active`,
		handle,
	).Scan(&pgID, &entry.Handle, &entry.WalletAddress, &entry.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry.UserID = uuid.UUID(pgID.Bytes)
	return entry, nil
}

// HandleByUserID returns a user's active handle, if any.
func (s *Store) HandleByUserID(ctx context.Context, userID uuid.UUID) (string, error) {
	var handle string
	err := s.pool.QueryRow(ctx,
		`SELECT handle FROM handles WHERE user_id = $1 AND active`, pgUUID(userID),
	).Scan(&handle)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return handle, err
}

// LookupPhone resolves an E.164 phone number to its user. The wallet address
// is nil when the user has not provisioned a wallet on the given chain.
func (s *Store) LookupPhone(ctx context.Context, phone string, chainID int64) (uuid.UUID, *string, error) {
	var pgID pgtype.UUID
	var addr pgtype.Text
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, w.address
		 FROM users u
		 LEFT JOIN wallets w ON w.user_id = u.id AND w.chain_id = $2
		 WHERE u.phone = $1`,
		phone, chainID,
	).Scan(&pgID, &addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, nil, err
	}
	return uuid.UUID(pgID.Bytes), textPtr(addr), nil
}

// PhoneByUserID returns a user's phone number, if any.
func (s *Store) PhoneByUserID(ctx context.Context, userID uuid.UUID) (string, error) {
	var phone pgtype.Text
	err := s.pool.QueryRow(ctx,
		`SELECT phone FROM users WHERE id = $1`, pgUUID(userID),
	).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !phone.Valid {
		return "", ErrNotFound
	}
	return phone.String, nil
}

// Helper functions to convert between pgx types and domain types

type scannable interface {
	Scan(dest ...any) error
}

func scanTransaction(row scannable) (*Transaction, error) {
	txn := &Transaction{}
	var id pgtype.UUID
	var fromUser, toUser pgtype.UUID
	var txHash, sponsorHash, errMsg pgtype.Text
	var createdAt, confirmedAt pgtype.Timestamptz

	err := row.Scan(
		&id, &txn.FromAddress, &txn.ToAddress, &fromUser, &toUser,
		&txn.Amount, &txn.Token, &txn.FeeWei, &txn.Status,
		&txHash, &sponsorHash, &txn.ResolutionMethod, &errMsg,
		&createdAt, &confirmedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.ID = uuid.UUID(id.Bytes)
	txn.FromUserID = uuidPtr(fromUser)
	txn.ToUserID = uuidPtr(toUser)
	txn.TxHash = textPtr(txHash)
	txn.GasSponsorTxHash = textPtr(sponsorHash)
	txn.ErrorMessage = textPtr(errMsg)
	txn.CreatedAt = createdAt.Time
	if confirmedAt.Valid {
		t := confirmedAt.Time
		txn.ConfirmedAt = &t
	}
	return txn, nil
}

func scanTransactions(rows pgx.Rows) ([]*Transaction, error) {
	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func uuidPtr(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	u := uuid.UUID(id.Bytes)
	return &u
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
