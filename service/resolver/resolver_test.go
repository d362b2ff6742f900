package resolver

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caja-cash/caja/service/db"
)

const (
	addrAlice  = "0x1111111111111111111111111111111111111111"
	addrBob    = "0x2222222222222222222222222222222222222222"
	addrExtern = "0x9999999999999999999999999999999999999999"
)

type fakeDirectory struct {
	handles  map[string]*db.HandleEntry
	phones   map[string]phoneEntry
	byWallet map[string]uuid.UUID
}

type phoneEntry struct {
	userID uuid.UUID
	addr   *string
}

func (f *fakeDirectory) LookupHandle(ctx context.Context, handle string) (*db.HandleEntry, error) {
	entry, ok := f.handles[handle]
	if !ok {
		return nil, db.ErrNotFound
	}
	return entry, nil
}

func (f *fakeDirectory) LookupPhone(ctx context.Context, phone string, chainID int64) (uuid.UUID, *string, error) {
	entry, ok := f.phones[phone]
	if !ok {
		return uuid.Nil, nil, db.ErrNotFound
	}
	return entry.userID, entry.addr, nil
}

func (f *fakeDirectory) UserIDByWalletAddress(ctx context.Context, address string) (uuid.UUID, error) {
	id, ok := f.byWallet[address]
	if !ok {
		return uuid.Nil, db.ErrNotFound
	}
	return id, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind Kind
		wantErr  bool
	}{
		{name: "hex address", raw: addrAlice, wantKind: KindWalletAddress},
		{name: "hex address no prefix", raw: "1111111111111111111111111111111111111111", wantKind: KindWalletAddress},
		{name: "handle", raw: "alice@caja", wantKind: KindHandle},
		{name: "handle mixed case", raw: "Alice@Caja", wantKind: KindHandle},
		{name: "phone", raw: "+15551234567", wantKind: KindPhone},
		{name: "whitespace trimmed", raw: "  +15551234567 ", wantKind: KindPhone},
		{name: "empty", raw: "", wantErr: true},
		{name: "short handle name", raw: "ab@caja", wantErr: true},
		{name: "handle with spaces", raw: "a b c@caja", wantErr: true},
		{name: "phone without plus", raw: "15551234567", wantErr: true},
		{name: "phone leading zero", raw: "+05551234567", wantErr: true},
		{name: "random text", raw: "hello world", wantErr: true},
		{name: "truncated address", raw: "0x1111", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Classify(tt.raw, "@caja")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, id.Kind)
		})
	}
}

func TestClassifyAddressBeatsHandle(t *testing.T) {
	// An address is classified as an address even though it could never be
	// a handle; priority order is fixed.
	id, err := Classify(addrAlice, "@caja")
	require.NoError(t, err)
	assert.Equal(t, KindWalletAddress, id.Kind)
}

func newTestResolver(dir *fakeDirectory) *Resolver {
	return NewResolver(dir, 80002, "@caja", discardLogger())
}

func TestResolveHandle(t *testing.T) {
	aliceID := uuid.New()
	dir := &fakeDirectory{
		handles: map[string]*db.HandleEntry{
			"alice": {UserID: aliceID, Handle: "alice", WalletAddress: addrAlice, Active: true},
		},
	}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), "Alice@Caja", addrBob)
	require.NoError(t, err)
	assert.Equal(t, addrAlice, res.WalletAddress)
	require.NotNil(t, res.UserID)
	assert.Equal(t, aliceID, *res.UserID)
	assert.Equal(t, db.MethodHandle, res.Method)
}

func TestResolveHandleNotFound(t *testing.T) {
	r := newTestResolver(&fakeDirectory{handles: map[string]*db.HandleEntry{}})

	_, err := r.Resolve(context.Background(), "unknown@caja", addrBob)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePhone(t *testing.T) {
	aliceID := uuid.New()
	addr := addrAlice
	dir := &fakeDirectory{
		phones: map[string]phoneEntry{
			"+15551234567": {userID: aliceID, addr: &addr},
		},
	}
	r := newTestResolver(dir)

	res, err := r.Resolve(context.Background(), "+15551234567", addrBob)
	require.NoError(t, err)
	assert.Equal(t, addrAlice, res.WalletAddress)
	require.NotNil(t, res.UserID)
	assert.Equal(t, aliceID, *res.UserID)
	assert.Equal(t, db.MethodPhone, res.Method)
}

func TestResolvePhoneNoWallet(t *testing.T) {
	dir := &fakeDirectory{
		phones: map[string]phoneEntry{
			"+15551234567": {userID: uuid.New(), addr: nil},
		},
	}
	r := newTestResolver(dir)

	_, err := r.Resolve(context.Background(), "+15551234567", addrBob)
	assert.ErrorIs(t, err, ErrNoWallet)
}

func TestResolveWalletAddress(t *testing.T) {
	aliceID := uuid.New()
	dir := &fakeDirectory{
		byWallet: map[string]uuid.UUID{addrAlice: aliceID},
	}
	r := newTestResolver(dir)

	t.Run("platform user", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), addrAlice, addrBob)
		require.NoError(t, err)
		assert.Equal(t, addrAlice, res.WalletAddress)
		require.NotNil(t, res.UserID)
		assert.Equal(t, aliceID, *res.UserID)
		assert.Equal(t, db.MethodWallet, res.Method)
	})

	t.Run("anonymous external address", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), addrExtern, addrBob)
		require.NoError(t, err)
		assert.Equal(t, addrExtern, res.WalletAddress)
		assert.Nil(t, res.UserID)
	})
}

func TestResolveSelfTransfer(t *testing.T) {
	aliceID := uuid.New()
	dir := &fakeDirectory{
		handles: map[string]*db.HandleEntry{
			"alice": {UserID: aliceID, Handle: "alice", WalletAddress: addrAlice, Active: true},
		},
		byWallet: map[string]uuid.UUID{addrAlice: aliceID},
	}
	r := newTestResolver(dir)

	t.Run("via handle", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "alice@caja", addrAlice)
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})

	t.Run("via address case-insensitive", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), addrAlice, "0x1111111111111111111111111111111111111111")
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})
}

func TestResolveInvalidFormat(t *testing.T) {
	r := newTestResolver(&fakeDirectory{})

	_, err := r.Resolve(context.Background(), "not an identifier", addrBob)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
