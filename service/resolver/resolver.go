package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/caja-cash/caja/service/db"
)

// Resolution errors. All surface before any ledger row is created or any
// chain call is made.
var (
	// ErrInvalidFormat is returned when the identifier matches none of the
	// recognized shapes (address, handle, phone).
	ErrInvalidFormat = errors.New("identifier has no recognized format")

	// ErrNotFound is returned when a handle or phone has no directory entry.
	ErrNotFound = errors.New("recipient not found")

	// ErrNoWallet is returned when the recipient exists but has no wallet
	// on the configured chain.
	ErrNoWallet = errors.New("recipient has no wallet")

	// ErrSelfTransfer is returned when the identifier resolves to the
	// sender's own wallet.
	ErrSelfTransfer = errors.New("cannot send to your own wallet")
)

// Kind classifies a raw recipient identifier.
type Kind int

const (
	KindWalletAddress Kind = iota
	KindHandle
	KindPhone
)

func (k Kind) String() string {
	switch k {
	case KindWalletAddress:
		return "wallet_address"
	case KindHandle:
		return "handle"
	case KindPhone:
		return "phone"
	default:
		return "unknown"
	}
}

// Identifier is a classified recipient identifier.
type Identifier struct {
	Kind  Kind
	Value string
}

var (
	handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,32}$`)
	phonePattern  = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
)

// Classify determines what shape a raw identifier has, in priority order:
// hex wallet address, then handle with the given suffix, then E.164 phone.
// It performs no lookups.
func Classify(raw, handleSuffix string) (Identifier, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("%w: empty identifier", ErrInvalidFormat)
	}

	if common.IsHexAddress(trimmed) {
		return Identifier{Kind: KindWalletAddress, Value: common.HexToAddress(trimmed).Hex()}, nil
	}

	if name, ok := strings.CutSuffix(strings.ToLower(trimmed), handleSuffix); ok {
		if !handlePattern.MatchString(name) {
			return Identifier{}, fmt.Errorf("%w: malformed handle %q", ErrInvalidFormat, trimmed)
		}
		return Identifier{Kind: KindHandle, Value: strings.ToLower(trimmed)}, nil
	}

	if phonePattern.MatchString(trimmed) {
		return Identifier{Kind: KindPhone, Value: trimmed}, nil
	}

	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidFormat, trimmed)
}

// Directory is the identity lookup surface the resolver consumes.
// *db.Store satisfies it.
type Directory interface {
	LookupHandle(ctx context.Context, handle string) (*db.HandleEntry, error)
	LookupPhone(ctx context.Context, phone string, chainID int64) (uuid.UUID, *string, error)
	UserIDByWalletAddress(ctx context.Context, address string) (uuid.UUID, error)
}

// Resolved is a recipient identifier resolved to a wallet address.
// UserID is nil for anonymous external addresses.
type Resolved struct {
	WalletAddress string
	UserID        *uuid.UUID
	Method        string
}

// Resolver maps human-supplied recipient identifiers to wallet addresses.
// It is a pure lookup layer with no side effects.
type Resolver struct {
	dir          Directory
	chainID      int64
	handleSuffix string
	logger       *slog.Logger
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory, chainID int64, handleSuffix string, logger *slog.Logger) *Resolver {
	return &Resolver{
		dir:          dir,
		chainID:      chainID,
		handleSuffix: handleSuffix,
		logger:       logger,
	}
}

// Resolve classifies and resolves raw to a wallet address. senderAddress is
// the caller's own wallet; resolving to it is rejected before any ledger
// row exists.
func (r *Resolver) Resolve(ctx context.Context, raw, senderAddress string) (*Resolved, error) {
	id, err := Classify(raw, r.handleSuffix)
	if err != nil {
		return nil, err
	}

	resolved, err := r.resolveClassified(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(resolved.WalletAddress, senderAddress) {
		return nil, ErrSelfTransfer
	}

	r.logger.DebugContext(ctx, "resolved recipient",
		"kind", id.Kind.String(),
		"method", resolved.Method,
		"has_user", resolved.UserID != nil,
	)
	return resolved, nil
}

func (r *Resolver) resolveClassified(ctx context.Context, id Identifier) (*Resolved, error) {
	switch id.Kind {
	case KindWalletAddress:
		// Anonymous external addresses are allowed; the owner lookup is
		// best-effort so platform users are credited in their history.
		res := &Resolved{WalletAddress: id.Value, Method: db.MethodWallet}
		userID, err := r.dir.UserIDByWalletAddress(ctx, id.Value)
		if err == nil {
			res.UserID = &userID
		} else if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up wallet owner: %w", err)
		}
		return res, nil

	case KindHandle:
		name := strings.TrimSuffix(id.Value, r.handleSuffix)
		entry, err := r.dir.LookupHandle(ctx, name)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up handle: %w", err)
		}
		userID := entry.UserID
		return &Resolved{
			WalletAddress: entry.WalletAddress,
			UserID:        &userID,
			Method:        db.MethodHandle,
		}, nil

	case KindPhone:
		userID, addr, err := r.dir.LookupPhone(ctx, id.Value, r.chainID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up phone: %w", err)
		}
		if addr == nil {
			return nil, ErrNoWallet
		}
		return &Resolved{
			WalletAddress: *addr,
			UserID:        &userID,
			Method:        db.MethodPhone,
		}, nil

	default:
		return nil, ErrInvalidFormat
	}
}
