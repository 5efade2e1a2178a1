package settle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/chain"
	"github.com/chainmatch/chainbook/pkg/util"
)

// Validator answers "does this account hold enough escrow of this asset on
// this network to cover a required amount". It is read-only: chain lookups
// go through the retry policy, and nothing here mutates state.
type Validator struct {
	provider chain.Provider
	policy   util.RetryPolicy
	defaults map[string]int32 // fallback decimals per asset symbol
	log      *zap.Logger
}

func NewValidator(provider chain.Provider, cfg params.Settlement, logger *zap.Logger) *Validator {
	return &Validator{
		provider: provider,
		policy:   util.RetryPolicy{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff},
		defaults: cfg.DefaultDecimals,
		log:      logger,
	}
}

// CheckResult reports one escrow balance check. Amounts are normalized to
// token-decimal scale so Required and Available compare directly.
type CheckResult struct {
	Valid     bool
	Required  decimal.Decimal
	Available decimal.Decimal
	Total     decimal.Decimal
	Locked    decimal.Decimal
	Token     common.Address
	Decimals  int32
}

// Check verifies account's available escrow of asset on network covers
// required. Configuration gaps come back as *Error with a stable code;
// transient chain failures come back as plain errors after retries.
func (v *Validator) Check(ctx context.Context, network params.Network, account, asset string, required decimal.Decimal) (CheckResult, error) {
	token, err := v.ResolveToken(network, asset)
	if err != nil {
		return CheckResult{}, err
	}
	if !common.IsHexAddress(account) {
		return CheckResult{}, fmt.Errorf("account %q is not an address", account)
	}
	user := common.HexToAddress(account)

	adapter, err := v.provider.Adapter(ctx, network)
	if err != nil {
		return CheckResult{}, &Error{Code: CodeMissingNetwork, Detail: network.Name, Err: err}
	}

	decimals := v.tokenDecimals(ctx, adapter, token, asset)

	bal, err := util.Retry(ctx, v.policy, func(ctx context.Context) (chain.EscrowBalance, error) {
		return adapter.CheckEscrowBalance(ctx, user, token)
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("escrow balance %s/%s on %s: %w", account, asset, network.Name, err)
	}

	res := CheckResult{
		Required:  required,
		Available: chain.FromUnits(bal.Available, decimals),
		Total:     chain.FromUnits(bal.Total, decimals),
		Locked:    chain.FromUnits(bal.Locked, decimals),
		Token:     token,
		Decimals:  decimals,
	}
	res.Valid = res.Available.GreaterThanOrEqual(required)
	return res, nil
}

// ResolveToken maps an asset symbol to its token address on network.
func (v *Validator) ResolveToken(network params.Network, asset string) (common.Address, error) {
	addr, ok := network.Token(asset)
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, &Error{
			Code:   CodeTokenNotSet,
			Detail: fmt.Sprintf("asset %s on network %s", asset, network.Name),
		}
	}
	return common.HexToAddress(addr), nil
}

// tokenDecimals reads decimals() with retries, falling back to the
// configured per-symbol default (then 18) when the chain keeps failing.
func (v *Validator) tokenDecimals(ctx context.Context, adapter chain.Adapter, token common.Address, asset string) int32 {
	d, err := util.Retry(ctx, v.policy, func(ctx context.Context) (int32, error) {
		return adapter.TokenDecimals(ctx, token)
	})
	if err == nil {
		return d
	}
	fallback, ok := v.defaults[asset]
	if !ok {
		fallback = 18
	}
	v.log.Warn("token decimals lookup failed, using fallback",
		zap.String("asset", asset),
		zap.String("token", token.Hex()),
		zap.Int32("fallback", fallback),
		zap.Error(err))
	return fallback
}

// Health reports whether settlement can work on a network: the contract
// owner, the engine's signer, and whether they match.
type Health struct {
	Network       string `json:"network"`
	ChainID       int64  `json:"chain_id"`
	Owner         string `json:"owner"`
	Signer        string `json:"signer"`
	SignerIsOwner bool   `json:"signer_is_owner"`
}

func (v *Validator) SettlementHealth(ctx context.Context, network params.Network) (Health, error) {
	adapter, err := v.provider.Adapter(ctx, network)
	if err != nil {
		return Health{}, &Error{Code: CodeMissingNetwork, Detail: network.Name, Err: err}
	}
	owner, err := util.Retry(ctx, v.policy, func(ctx context.Context) (common.Address, error) {
		return adapter.ContractOwner(ctx)
	})
	if err != nil {
		return Health{}, fmt.Errorf("owner lookup on %s: %w", network.Name, err)
	}
	signer := adapter.SignerAddress()
	return Health{
		Network:       network.Name,
		ChainID:       adapter.ChainID(),
		Owner:         owner.Hex(),
		Signer:        signer.Hex(),
		SignerIsOwner: owner == signer,
	}, nil
}

// EscrowBalanceOf is the raw balance lookup backing the balance endpoint.
func (v *Validator) EscrowBalanceOf(ctx context.Context, network params.Network, account, asset string) (chain.EscrowBalance, int32, error) {
	token, err := v.ResolveToken(network, asset)
	if err != nil {
		return chain.EscrowBalance{}, 0, err
	}
	if !common.IsHexAddress(account) {
		return chain.EscrowBalance{}, 0, fmt.Errorf("account %q is not an address", account)
	}
	adapter, err := v.provider.Adapter(ctx, network)
	if err != nil {
		return chain.EscrowBalance{}, 0, &Error{Code: CodeMissingNetwork, Detail: network.Name, Err: err}
	}
	decimals := v.tokenDecimals(ctx, adapter, token, asset)
	bal, err := util.Retry(ctx, v.policy, func(ctx context.Context) (chain.EscrowBalance, error) {
		return adapter.CheckEscrowBalance(ctx, common.HexToAddress(account), token)
	})
	if err != nil {
		return chain.EscrowBalance{}, 0, err
	}
	return bal, decimals, nil
}
