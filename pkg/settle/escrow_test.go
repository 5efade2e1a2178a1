package settle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/chain/chaintest"
)

func newValidatorFixture(t *testing.T) (*Validator, *chaintest.Ledger, params.Network) {
	t.Helper()
	cfg := testConfig()
	net := cfg.Networks["hedera"]

	ledger := chaintest.NewLedger(net.ChainID)
	provider := chaintest.NewProvider()
	provider.Add("hedera", ledger)

	return NewValidator(provider, cfg.Settlement, zap.NewNop()), ledger, net
}

func TestCheckSufficientBalance(t *testing.T) {
	v, ledger, net := newValidatorFixture(t)
	hbar, _ := net.Token("HBAR")
	token := common.HexToAddress(hbar)
	ledger.SetDecimals(token, 18)
	bal, _ := new(big.Int).SetString("5000000000000000000", 10) // 5 HBAR
	ledger.SetEscrow(common.HexToAddress(sellerAddr), token, bal)

	res, err := v.Check(context.Background(), net, sellerAddr, "HBAR", decimal.RequireFromString("3"))
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.True(t, res.Available.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, int32(18), res.Decimals)
}

func TestCheckInsufficientBalance(t *testing.T) {
	v, ledger, net := newValidatorFixture(t)
	hbar, _ := net.Token("HBAR")
	ledger.SetEscrow(common.HexToAddress(sellerAddr), common.HexToAddress(hbar), big.NewInt(0))

	res, err := v.Check(context.Background(), net, sellerAddr, "HBAR", decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestCheckUnknownToken(t *testing.T) {
	v, _, net := newValidatorFixture(t)

	_, err := v.Check(context.Background(), net, sellerAddr, "DOGE", decimal.New(1, 0))
	require.Error(t, err)
	assert.Equal(t, CodeTokenNotSet, CodeOf(err))
}

func TestCheckBadAccount(t *testing.T) {
	v, _, net := newValidatorFixture(t)

	_, err := v.Check(context.Background(), net, "alice", "HBAR", decimal.New(1, 0))
	require.Error(t, err)
}

func TestDecimalsFallbackOnChainFailure(t *testing.T) {
	v, ledger, net := newValidatorFixture(t)
	ledger.DecimalsErr = assert.AnError
	usdt, _ := net.Token("USDT")
	token := common.HexToAddress(usdt)
	// 4 USDT at the 6-decimal fallback scale.
	ledger.SetEscrow(common.HexToAddress(buyerAddr), token, big.NewInt(4_000_000))

	res, err := v.Check(context.Background(), net, buyerAddr, "USDT", decimal.RequireFromString("4"))
	require.NoError(t, err)
	assert.Equal(t, int32(6), res.Decimals)
	assert.True(t, res.Valid)
}

func TestSettlementHealth(t *testing.T) {
	v, ledger, net := newValidatorFixture(t)

	h, err := v.SettlementHealth(context.Background(), net)
	require.NoError(t, err)
	assert.Equal(t, net.ChainID, h.ChainID)
	assert.True(t, h.SignerIsOwner)

	ledger.Signer = common.HexToAddress("0x000000000000000000000000000000000000dead")
	h, err = v.SettlementHealth(context.Background(), net)
	require.NoError(t, err)
	assert.False(t, h.SignerIsOwner)
}

func TestCheckRetriesTransientBalanceErrors(t *testing.T) {
	v, ledger, net := newValidatorFixture(t)
	ledger.BalanceErr = assert.AnError

	_, err := v.Check(context.Background(), net, sellerAddr, "HBAR", decimal.New(1, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
