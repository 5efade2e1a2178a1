// Package chaintest provides an in-memory settlement chain fake for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/chain"
)

// CrossCall records one settleCrossChainTrade invocation.
type CrossCall struct {
	Trade         chain.TradeData
	IsSourceChain bool
}

// Ledger is a fake chain.Adapter backed by maps. Configure balances and
// failure injection, then hand it to the code under test.
type Ledger struct {
	mu sync.Mutex

	ChainIDValue int64
	Owner        common.Address
	Signer       common.Address

	// Failure injection.
	FailSameChain bool
	FailSource    bool
	FailDest      bool
	NonceErr      error
	DecimalsErr   error
	BalanceErr    error

	// Stall blocks every Settle* call until the caller's context expires,
	// for exercising settlement deadlines.
	Stall bool

	escrow   map[string]chain.EscrowBalance
	decimals map[common.Address]int32
	nonces   map[string]*big.Int
	settled  map[[32]byte]bool

	SameChainCalls []chain.TradeData
	CrossCalls     []CrossCall
}

func NewLedger(chainID int64) *Ledger {
	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	return &Ledger{
		ChainIDValue: chainID,
		Owner:        owner,
		Signer:       owner,
		escrow:       make(map[string]chain.EscrowBalance),
		decimals:     make(map[common.Address]int32),
		nonces:       make(map[string]*big.Int),
		settled:      make(map[[32]byte]bool),
	}
}

func balanceKey(user, token common.Address) string {
	return user.Hex() + ":" + token.Hex()
}

// SetEscrow sets the available (and total) escrow balance for user/token.
func (l *Ledger) SetEscrow(user, token common.Address, available *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escrow[balanceKey(user, token)] = chain.EscrowBalance{
		Total:     new(big.Int).Set(available),
		Available: new(big.Int).Set(available),
		Locked:    big.NewInt(0),
	}
}

func (l *Ledger) SetDecimals(token common.Address, d int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[token] = d
}

func (l *Ledger) SetNonce(user, token common.Address, nonce int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonces[balanceKey(user, token)] = big.NewInt(nonce)
}

func (l *Ledger) ChainID() int64 { return l.ChainIDValue }

func (l *Ledger) SignerAddress() common.Address { return l.Signer }

func (l *Ledger) ContractOwner(ctx context.Context) (common.Address, error) {
	return l.Owner, nil
}

func (l *Ledger) CheckEscrowBalance(ctx context.Context, user, token common.Address) (chain.EscrowBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.BalanceErr != nil {
		return chain.EscrowBalance{}, l.BalanceErr
	}
	if b, ok := l.escrow[balanceKey(user, token)]; ok {
		return b, nil
	}
	zero := big.NewInt(0)
	return chain.EscrowBalance{Total: zero, Available: zero, Locked: zero}, nil
}

func (l *Ledger) TokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.DecimalsErr != nil {
		return 0, l.DecimalsErr
	}
	if d, ok := l.decimals[token]; ok {
		return d, nil
	}
	return 18, nil
}

func (l *Ledger) UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.NonceErr != nil {
		return nil, l.NonceErr
	}
	if n, ok := l.nonces[balanceKey(user, token)]; ok {
		return new(big.Int).Set(n), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) SettleSameChainTrade(ctx context.Context, trade chain.TradeData) (*chain.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SameChainCalls = append(l.SameChainCalls, trade)
	if l.Stall {
		l.mu.Unlock()
		<-ctx.Done()
		l.mu.Lock()
		return nil, ctx.Err()
	}
	if l.FailSameChain {
		return nil, errors.New("execution reverted")
	}
	if l.settled[trade.OrderId] {
		return nil, errors.New("order already settled")
	}
	l.settled[trade.OrderId] = true
	return l.result(trade), nil
}

func (l *Ledger) SettleCrossChainTrade(ctx context.Context, trade chain.TradeData, isSourceChain bool) (*chain.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CrossCalls = append(l.CrossCalls, CrossCall{Trade: trade, IsSourceChain: isSourceChain})
	if l.Stall {
		l.mu.Unlock()
		<-ctx.Done()
		l.mu.Lock()
		return nil, ctx.Err()
	}
	if isSourceChain && l.FailSource {
		return nil, errors.New("execution reverted")
	}
	if !isSourceChain && l.FailDest {
		return nil, errors.New("execution reverted")
	}
	return l.result(trade), nil
}

func (l *Ledger) result(trade chain.TradeData) *chain.SubmitResult {
	return &chain.SubmitResult{
		TxHash:      crypto.Keccak256Hash(trade.OrderId[:], []byte{byte(l.ChainIDValue)}),
		GasUsed:     21000,
		BlockNumber: 1,
	}
}

var _ chain.Adapter = (*Ledger)(nil)

// Provider maps network names to Ledgers.
type Provider struct {
	Ledgers map[string]*Ledger
}

func NewProvider() *Provider {
	return &Provider{Ledgers: make(map[string]*Ledger)}
}

func (p *Provider) Add(networkName string, l *Ledger) {
	p.Ledgers[networkName] = l
}

func (p *Provider) Adapter(ctx context.Context, network params.Network) (chain.Adapter, error) {
	l, ok := p.Ledgers[network.Name]
	if !ok {
		return nil, fmt.Errorf("no ledger configured for network %q", network.Name)
	}
	return l, nil
}

var _ chain.Provider = (*Provider)(nil)
