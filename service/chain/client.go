package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/caja-cash/caja/service/metrics"
)

// Gas limits for the two transfer shapes we submit. Native transfers are
// a fixed 21000; token transfers get a generous static limit rather than
// a per-call estimate so the sponsorship decision is deterministic.
const (
	GasLimitNativeTransfer uint64 = 21_000
	GasLimitTokenTransfer  uint64 = 100_000
)

// ErrNotMined is returned by Receipt when the transaction is not yet
// included in a block.
var ErrNotMined = errors.New("transaction not mined")

// RPC is the subset of EVM JSON-RPC operations we need.
// *ethclient.Client satisfies it; tests provide fakes.
type RPC interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client wraps the RPC layer with the domain operations the settlement
// protocol needs: balance reads, gas pricing, nonce management, and
// signed transaction submission.
type Client struct {
	rpc     RPC
	chainID *big.Int
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new chain client. If m is nil, no metrics are recorded.
func NewClient(rpc RPC, chainID int64, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:     rpc,
		chainID: big.NewInt(chainID),
		logger:  logger,
		metrics: m,
	}
}

// Dial connects to an EVM JSON-RPC endpoint and returns a Client over it.
func Dial(ctx context.Context, url string, chainID int64, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}
	return NewClient(ec, chainID, m, logger), nil
}

// ChainID returns the chain ID transactions are signed for.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) record(method string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordChainRPCCall(method, status, time.Since(start).Seconds())
}

// Balance returns the current native balance of addr in wei.
// Balances are always read live, never cached.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	start := time.Now()
	bal, err := c.rpc.BalanceAt(ctx, addr, nil)
	c.record("BalanceAt", err, start)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to read balance",
			"address", addr.Hex(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to read balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// TokenBalance returns the ERC-20 balance of owner on the given token
// contract, in the token's base units.
func (c *Client) TokenBalance(ctx context.Context, tokenContract, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	start := time.Now()
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &tokenContract, Data: data}, nil)
	c.record("CallContract", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance of %s on %s: %w", owner.Hex(), tokenContract.Hex(), err)
	}
	return new(big.Int).SetBytes(out), nil
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	price, err := c.rpc.SuggestGasPrice(ctx)
	c.record("SuggestGasPrice", err, start)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

// PendingNonce returns the next nonce for addr, including pending transactions.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	start := time.Now()
	nonce, err := c.rpc.PendingNonceAt(ctx, addr)
	c.record("PendingNonceAt", err, start)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce for %s: %w", addr.Hex(), err)
	}
	return nonce, nil
}

// SendNative signs and submits a native currency transfer and returns the
// transaction hash. It does not wait for inclusion.
func (c *Client) SendNative(ctx context.Context, signer *Signer, to common.Address, amountWei *big.Int, nonce uint64, gasPrice *big.Int) (string, error) {
	tx := types.NewTransaction(nonce, to, amountWei, GasLimitNativeTransfer, gasPrice, nil)
	return c.submit(ctx, signer, tx)
}

// SendToken signs and submits an ERC-20 transfer call against the token
// contract and returns the transaction hash. It does not wait for inclusion.
func (c *Client) SendToken(ctx context.Context, signer *Signer, tokenContract, to common.Address, amount *big.Int, nonce uint64, gasPrice *big.Int) (string, error) {
	data := TransferCalldata(to, amount)
	tx := types.NewTransaction(nonce, tokenContract, big.NewInt(0), GasLimitTokenTransfer, gasPrice, data)
	return c.submit(ctx, signer, tx)
}

func (c *Client) submit(ctx context.Context, signer *Signer, tx *types.Transaction) (string, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), signer.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	start := time.Now()
	err = c.rpc.SendTransaction(ctx, signed)
	c.record("SendTransaction", err, start)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to submit transaction",
			"from", signer.Address().Hex(),
			"to", tx.To().Hex(),
			"nonce", tx.Nonce(),
			"error", err,
		)
		return "", fmt.Errorf("failed to submit transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "submitted transaction",
		"tx_hash", hash,
		"from", signer.Address().Hex(),
		"to", tx.To().Hex(),
		"nonce", tx.Nonce(),
		"gas_limit", tx.Gas(),
	)
	return hash, nil
}

// ReceiptStatus is the outcome of a mined transaction.
type ReceiptStatus int

const (
	ReceiptFailed  ReceiptStatus = 0
	ReceiptSuccess ReceiptStatus = 1
)

// Receipt returns the mined status of txHash. ErrNotMined means the
// transaction is still pending (or unknown to the node).
func (c *Client) Receipt(ctx context.Context, txHash string) (ReceiptStatus, error) {
	start := time.Now()
	rcpt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	c.record("TransactionReceipt", err, start)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, ErrNotMined
		}
		return 0, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		return ReceiptSuccess, nil
	}
	return ReceiptFailed, nil
}

// TransferCalldata builds ERC-20 transfer(address,uint256) calldata.
func TransferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// ERC-20 method selectors, the first four bytes of the keccak256 signature hash.
var (
	transferMethodID  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	balanceOfMethodID = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)
