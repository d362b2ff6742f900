package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds a private key and its derived address. The relayer key is
// the only key the service holds; user keys never enter the process.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key (with or without
// a 0x prefix) and derives its address.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Custody hands out signers for custodial user wallets. Implementations
// may be backed by a KMS; the settlement path treats it as opaque.
type Custody interface {
	SignerFor(ctx context.Context, address common.Address) (*Signer, error)
}

// ErrNoCustodyKey is returned when custody holds no key for an address.
var ErrNoCustodyKey = errors.New("no custody key for address")

// KeyringCustody is an in-process Custody backed by a static set of hex
// private keys, suitable for development and testing environments.
type KeyringCustody struct {
	signers map[common.Address]*Signer
}

// NewKeyringCustody parses a list of hex private keys into a keyring.
func NewKeyringCustody(hexKeys []string) (*KeyringCustody, error) {
	kc := &KeyringCustody{signers: make(map[common.Address]*Signer, len(hexKeys))}
	for _, hk := range hexKeys {
		hk = strings.TrimSpace(hk)
		if hk == "" {
			continue
		}
		signer, err := NewSigner(hk)
		if err != nil {
			return nil, err
		}
		kc.signers[signer.Address()] = signer
	}
	return kc, nil
}

// SignerFor returns the signer for address, or ErrNoCustodyKey.
func (kc *KeyringCustody) SignerFor(_ context.Context, address common.Address) (*Signer, error) {
	signer, ok := kc.signers[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCustodyKey, address.Hex())
	}
	return signer, nil
}
