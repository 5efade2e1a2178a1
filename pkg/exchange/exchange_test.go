package exchange

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/activity"
	"github.com/chainmatch/chainbook/pkg/book"
	"github.com/chainmatch/chainbook/pkg/chain/chaintest"
	"github.com/chainmatch/chainbook/pkg/settle"
)

const (
	seller = "0x1111111111111111111111111111111111111111"
	buyer  = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	ex       *Exchange
	hedera   *chaintest.Ledger
	ethereum *chaintest.Ledger
}

func newFixture(t *testing.T) *fixture {
	return newFixtureCfg(t, nil)
}

func newFixtureCfg(t *testing.T, tune func(*params.Config)) *fixture {
	t.Helper()
	cfg := params.Default()
	cfg.Settlement.RetryBackoff = 0
	if tune != nil {
		tune(&cfg)
	}

	hedera := chaintest.NewLedger(cfg.Networks["hedera"].ChainID)
	ethereum := chaintest.NewLedger(cfg.Networks["ethereum"].ChainID)
	provider := chaintest.NewProvider()
	provider.Add("hedera", hedera)
	provider.Add("ethereum", ethereum)

	for name, ledger := range map[string]*chaintest.Ledger{"hedera": hedera, "ethereum": ethereum} {
		net := cfg.Networks[name]
		for _, sym := range []string{"HBAR", "USDT"} {
			addr, _ := net.Token(sym)
			token := common.HexToAddress(addr)
			ledger.SetDecimals(token, 18)
			bal, _ := new(big.Int).SetString("1000000000000000000000", 10)
			ledger.SetEscrow(common.HexToAddress(seller), token, bal)
			ledger.SetEscrow(common.HexToAddress(buyer), token, bal)
		}
	}

	logger := zap.NewNop()
	validator := settle.NewValidator(provider, cfg.Settlement, logger)
	settler := settle.NewSettler(provider, cfg, validator, logger)
	act := activity.NewLog(nil, 100, logger)
	return &fixture{
		ex:       New(cfg, validator, settler, act, logger),
		hedera:   hedera,
		ethereum: ethereum,
	}
}

func askReq(price, qty string) OrderRequest {
	return OrderRequest{
		Symbol:      "HBAR_USDT",
		Account:     seller,
		Side:        "ask",
		Price:       decimal.RequireFromString(price),
		Quantity:    decimal.RequireFromString(qty),
		FromNetwork: "hedera",
		ToNetwork:   "ethereum",
	}
}

func bidReq(price, qty string) OrderRequest {
	return OrderRequest{
		Symbol:      "HBAR_USDT",
		Account:     buyer,
		Side:        "bid",
		Price:       decimal.RequireFromString(price),
		Quantity:    decimal.RequireFromString(qty),
		FromNetwork: "ethereum",
		ToNetwork:   "hedera",
	}
}

func eventsOfType(events []activity.Event, typ string) []activity.Event {
	var out []activity.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestPlaceRestingOrder(t *testing.T) {
	f := newFixture(t)

	res, err := f.ex.PlaceOrder(context.Background(), askReq("10", "5"))
	require.NoError(t, err)

	assert.NotZero(t, res.OrderID)
	assert.Empty(t, res.Trades)
	require.NotNil(t, res.Resting)
	assert.Nil(t, res.Settlement)

	placed := eventsOfType(f.ex.Activity().Recent(0), activity.TypeOrderPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, res.OrderID, placed[0].OrderID)
}

func TestMatchSettlesAndRecords(t *testing.T) {
	f := newFixture(t)
	_, err := f.ex.PlaceOrder(context.Background(), askReq("10", "5"))
	require.NoError(t, err)

	res, err := f.ex.PlaceOrder(context.Background(), bidReq("10", "3"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.RequireFromString("10")))
	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Settled)

	// Cross-chain: one source and one destination submission.
	require.Len(t, f.hedera.CrossCalls, 1)
	require.Len(t, f.ethereum.CrossCalls, 1)

	// Settled trades hit the tape and the activity log with tx hashes.
	tape := f.ex.Trades("HBAR_USDT", 0)
	require.Len(t, tape, 1)
	executed := eventsOfType(f.ex.Activity().Recent(0), activity.TypeTradeExecuted)
	require.Len(t, executed, 1)
	assert.NotEmpty(t, executed[0].TxHashSource)
	assert.NotEmpty(t, executed[0].TxHashDestination)
}

func TestSettlementFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.ex.PlaceOrder(context.Background(), askReq("10", "5"))
	require.NoError(t, err)

	// The ask seller escrows on hedera, so hedera is the source chain.
	f.hedera.FailSource = true

	res, err := f.ex.PlaceOrder(context.Background(), bidReq("10", "3"))
	require.Error(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Settlement)
	assert.False(t, res.Settlement.Settled)

	// No trade record anywhere.
	assert.Empty(t, f.ex.Trades("HBAR_USDT", 0))
	assert.Empty(t, eventsOfType(f.ex.Activity().Recent(0), activity.TypeTradeExecuted))

	// The failed bid was fully matched, nothing rested; the maker's
	// decrement stands.
	depth := f.ex.Depth("HBAR_USDT")
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Quantity.Equal(decimal.RequireFromString("2")))
	assert.Empty(t, depth.Bids)
}

func TestSettlementFailureCancelsRestingRemainder(t *testing.T) {
	f := newFixture(t)
	_, err := f.ex.PlaceOrder(context.Background(), askReq("10", "2"))
	require.NoError(t, err)

	f.hedera.FailSource = true

	// Bid for more than rests: would match 2 and rest 3.
	res, err := f.ex.PlaceOrder(context.Background(), bidReq("10", "5"))
	require.Error(t, err)

	// The remainder must not stay on the book after the rollback.
	depth := f.ex.Depth("HBAR_USDT")
	assert.Empty(t, depth.Bids)
	_, ok := f.ex.Book("HBAR_USDT").Lookup(res.OrderID)
	assert.False(t, ok)
}

func TestSettlementTimeoutRollsBack(t *testing.T) {
	f := newFixtureCfg(t, func(cfg *params.Config) {
		cfg.Settlement.SyncTimeout = 50 * time.Millisecond
	})
	_, err := f.ex.PlaceOrder(context.Background(), askReq("10", "2"))
	require.NoError(t, err)

	// Submissions hang past the sync budget; the deadline must fail the
	// placement the same way a revert does.
	f.hedera.Stall = true
	f.ethereum.Stall = true

	start := time.Now()
	res, err := f.ex.PlaceOrder(context.Background(), bidReq("10", "5"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, res)
	require.NotNil(t, res.Settlement)
	assert.False(t, res.Settlement.Settled)

	// The bid's remainder is cancelled and nothing reached the tape or the
	// activity log.
	depth := f.ex.Depth("HBAR_USDT")
	assert.Empty(t, depth.Bids)
	assert.Empty(t, f.ex.Trades("HBAR_USDT", 0))
	assert.Empty(t, eventsOfType(f.ex.Activity().Recent(0), activity.TypeTradeExecuted))
}

func TestPreTradeEscrowRejection(t *testing.T) {
	f := newFixture(t)
	hbar, _ := params.Default().Networks["hedera"].Token("HBAR")
	f.hedera.SetEscrow(common.HexToAddress(seller), common.HexToAddress(hbar), big.NewInt(0))

	_, err := f.ex.PlaceOrder(context.Background(), askReq("10", "5"))
	require.Error(t, err)
	assert.Equal(t, settle.CodeAskBaseEscrow, settle.CodeOf(err))

	// Rejected before touching the book.
	assert.Empty(t, f.ex.Depth("HBAR_USDT").Asks)
}

func TestUnknownNetworkRejected(t *testing.T) {
	f := newFixture(t)
	req := askReq("10", "5")
	req.FromNetwork = "avalanche"

	_, err := f.ex.PlaceOrder(context.Background(), req)
	require.Error(t, err)
}

func TestBadSymbolRejected(t *testing.T) {
	f := newFixture(t)
	req := askReq("10", "5")
	req.Symbol = "HBARUSDT"

	_, err := f.ex.PlaceOrder(context.Background(), req)
	require.Error(t, err)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	res, err := f.ex.PlaceOrder(context.Background(), askReq("10", "5"))
	require.NoError(t, err)

	order, err := f.ex.CancelOrder("HBAR_USDT", "ask", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, order.ID)

	cancelled := eventsOfType(f.ex.Activity().Recent(0), activity.TypeOrderCancelled)
	require.Len(t, cancelled, 1)

	_, err = f.ex.CancelOrder("HBAR_USDT", "ask", res.OrderID)
	assert.ErrorIs(t, err, book.ErrOrderNotFound)
}

func TestReadPathsDoNotCreateBooks(t *testing.T) {
	f := newFixture(t)

	snap := f.ex.Depth("FAKE_PAIR")
	assert.Equal(t, "FAKE_PAIR", snap.Symbol)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
	assert.Empty(t, f.ex.Trades("FAKE_PAIR", 0))

	_, err := f.ex.CancelOrder("FAKE_PAIR", "ask", 1)
	assert.ErrorIs(t, err, book.ErrOrderNotFound)

	// None of the reads may have registered a book.
	assert.Empty(t, f.ex.Symbols())
}

func TestSameChainMatch(t *testing.T) {
	f := newFixture(t)
	ask := askReq("10", "5")
	ask.ToNetwork = "hedera"
	bid := bidReq("10", "5")
	bid.FromNetwork = "hedera"
	bid.ToNetwork = "hedera"
	bid.Account = buyer

	_, err := f.ex.PlaceOrder(context.Background(), ask)
	require.NoError(t, err)
	res, err := f.ex.PlaceOrder(context.Background(), bid)
	require.NoError(t, err)

	require.NotNil(t, res.Settlement)
	assert.True(t, res.Settlement.Settled)
	require.Len(t, f.hedera.SameChainCalls, 1)
	assert.Empty(t, f.hedera.CrossCalls)

	executed := eventsOfType(f.ex.Activity().Recent(0), activity.TypeTradeExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, executed[0].TxHashSource, executed[0].TxHashDestination)
}
