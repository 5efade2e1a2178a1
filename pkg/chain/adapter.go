// Package chain defines the contract the settlement core requires from a
// ledger, plus the EVM implementation of it. One adapter serves one network;
// the orchestrator resolves adapters per trade through a Provider.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/chainmatch/chainbook/params"
)

// EscrowBalance is a user's escrowed holding of one token, in smallest units.
type EscrowBalance struct {
	Total     *big.Int
	Available *big.Int
	Locked    *big.Int
}

// SubmitResult reports a mined settlement transaction.
type SubmitResult struct {
	TxHash      common.Hash
	GasUsed     uint64
	BlockNumber uint64
}

// TradeData mirrors the settlement contract's trade struct. Field names
// follow the ABI tuple components so the encoder can pack it directly.
// Party1 is always the ask-side seller on the source chain, Party2 the
// bid-side buyer on the destination chain; the orchestrator normalizes roles
// before building this.
type TradeData struct {
	OrderId             [32]byte
	Party1              common.Address
	Party2              common.Address
	Party1ReceiveWallet common.Address
	Party2ReceiveWallet common.Address
	BaseAsset           common.Address
	QuoteAsset          common.Address
	Price               *big.Int
	Quantity            *big.Int
	Party1Side          string
	Party2Side          string
	SourceChainId       *big.Int
	DestinationChainId  *big.Int
	Timestamp           *big.Int
	Nonce1              *big.Int
	Nonce2              *big.Int
}

// Adapter is the per-network ledger contract the orchestrator drives.
// Read methods are idempotent and safe to retry; the two Settle methods
// mutate chain state and must never be retried locally; the contract's
// replay guard on OrderId is the only safe idempotency mechanism.
type Adapter interface {
	ChainID() int64

	CheckEscrowBalance(ctx context.Context, user, token common.Address) (EscrowBalance, error)
	TokenDecimals(ctx context.Context, token common.Address) (int32, error)
	UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error)

	SettleSameChainTrade(ctx context.Context, trade TradeData) (*SubmitResult, error)
	SettleCrossChainTrade(ctx context.Context, trade TradeData, isSourceChain bool) (*SubmitResult, error)

	ContractOwner(ctx context.Context) (common.Address, error)
	SignerAddress() common.Address
}

// Provider resolves an Adapter for a configured network, typically caching
// dialed clients.
type Provider interface {
	Adapter(ctx context.Context, network params.Network) (Adapter, error)
}

// SettlementDecimals is the fixed scale the settlement contracts use for
// price and quantity fields, independent of each token's own decimals.
const SettlementDecimals = 18

// ToUnits converts a decimal amount to smallest-unit integer at the given
// scale, truncating any sub-unit dust.
func ToUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// FromUnits converts a smallest-unit integer back to a decimal amount.
func FromUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}
