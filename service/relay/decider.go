package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caja-cash/caja/service/chain"
	"github.com/caja-cash/caja/service/metrics"
)

// ErrSponsorshipUnavailable is returned when the sender needs a gas top-up
// but the relayer cannot fund it. The whole request must abort; no ledger
// row is created and the caller may retry later.
var ErrSponsorshipUnavailable = errors.New("gas sponsorship unavailable: relayer balance too low")

// Safety multiplier applied to estimated gas costs, as integer math.
// 1.2x absorbs gas price movement between the estimate and mining.
const (
	safetyNum = 120
	safetyDen = 100
)

func withSafetyMargin(wei *big.Int) *big.Int {
	out := new(big.Int).Mul(wei, big.NewInt(safetyNum))
	return out.Div(out, big.NewInt(safetyDen))
}

// transferFee is gasPrice x the token-transfer gas limit, with margin.
func transferFee(gasPrice *big.Int) *big.Int {
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(chain.GasLimitTokenTransfer))
	return withSafetyMargin(fee)
}

// topupFee is the relayer's own cost to deliver a top-up, with margin.
func topupFee(gasPrice *big.Int) *big.Int {
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(chain.GasLimitNativeTransfer))
	return withSafetyMargin(fee)
}

// Decision is the outcome of a sponsorship check. GasPrice is the price
// sampled for the decision and is reused for submission so the funded
// top-up actually covers the transfer it was sized for.
type Decision struct {
	Sponsored bool
	TopupWei  *big.Int // nil unless Sponsored
	GasPrice  *big.Int
}

// Decider determines whether a sender's wallet can pay its own gas for a
// single token transfer, or needs a top-up from the relayer first.
type Decider struct {
	chain   *chain.Client
	relayer common.Address
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDecider creates a Decider. If m is nil, no metrics are recorded.
func NewDecider(c *chain.Client, relayer common.Address, m *metrics.Metrics, logger *slog.Logger) *Decider {
	return &Decider{chain: c, relayer: relayer, logger: logger, metrics: m}
}

// Decide reads the sender's live native balance and compares it against the
// estimated cost of one token transfer. Balances are never cached; the
// relayer balance check is advisory only, there is no reservation across
// concurrent requests.
func (d *Decider) Decide(ctx context.Context, sender common.Address) (*Decision, error) {
	gasPrice, err := d.chain.GasPrice(ctx)
	if err != nil {
		d.recordOutcome("error")
		return nil, err
	}
	required := transferFee(gasPrice)

	senderBal, err := d.chain.Balance(ctx, sender)
	if err != nil {
		d.recordOutcome("error")
		return nil, err
	}

	if senderBal.Cmp(required) >= 0 {
		d.logger.DebugContext(ctx, "sender pays own gas",
			"sender", sender.Hex(),
			"balance_wei", senderBal.String(),
			"required_wei", required.String(),
		)
		d.recordOutcome("pay_own_gas")
		return &Decision{Sponsored: false, GasPrice: gasPrice}, nil
	}

	// The top-up is sized to cover exactly one transfer, leaving only the
	// safety margin as residual in the user's wallet.
	topup := required

	relayerBal, err := d.chain.Balance(ctx, d.relayer)
	if err != nil {
		d.recordOutcome("error")
		return nil, err
	}
	if d.metrics != nil {
		bal, _ := new(big.Float).SetInt(relayerBal).Float64()
		d.metrics.SetRelayerBalance(bal)
	}

	// The relayer must fund the top-up and pay for its own transfer leg.
	needed := new(big.Int).Add(topup, topupFee(gasPrice))
	if relayerBal.Cmp(needed) < 0 {
		d.logger.WarnContext(ctx, "relayer cannot fund top-up",
			"relayer", d.relayer.Hex(),
			"relayer_balance_wei", relayerBal.String(),
			"needed_wei", needed.String(),
		)
		d.recordOutcome("unavailable")
		return nil, fmt.Errorf("%w (balance %s wei, needed %s wei)",
			ErrSponsorshipUnavailable, relayerBal.String(), needed.String())
	}

	d.logger.InfoContext(ctx, "sponsoring gas for sender",
		"sender", sender.Hex(),
		"topup_wei", topup.String(),
		"gas_price_wei", gasPrice.String(),
	)
	d.recordOutcome("sponsored")
	return &Decision{Sponsored: true, TopupWei: topup, GasPrice: gasPrice}, nil
}

func (d *Decider) recordOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.RecordSponsorshipDecision(outcome)
	}
}

// RelayerStatus is an operational snapshot of the relayer wallet.
type RelayerStatus struct {
	Address               string `json:"address"`
	BalanceWei            string `json:"balance_wei"`
	EstimatedSponsorships int64  `json:"estimated_sponsorships"`
	Level                 string `json:"level"`
}

// Status reads the live relayer balance and estimates how many sponsorships
// it can still fund at the current gas price.
func (d *Decider) Status(ctx context.Context) (*RelayerStatus, error) {
	gasPrice, err := d.chain.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	bal, err := d.chain.Balance(ctx, d.relayer)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		f, _ := new(big.Float).SetInt(bal).Float64()
		d.metrics.SetRelayerBalance(f)
	}

	perSponsorship := new(big.Int).Add(transferFee(gasPrice), topupFee(gasPrice))
	remaining := new(big.Int).Div(bal, perSponsorship).Int64()

	level := "funded"
	switch {
	case remaining == 0:
		level = "empty"
	case remaining < 10:
		level = "critical"
	case remaining < 50:
		level = "low"
	}

	return &RelayerStatus{
		Address:               d.relayer.Hex(),
		BalanceWei:            bal.String(),
		EstimatedSponsorships: remaining,
		Level:                 level,
	}, nil
}
