package settle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/book"
	"github.com/chainmatch/chainbook/pkg/chain"
	"github.com/chainmatch/chainbook/pkg/util"
)

// Settler drives on-chain settlement of matched trades. It never retries a
// submission: reads go through the retry policy, but each Settle* call is
// sent at most once, with the contract's replay guard as the only
// idempotency backstop.
type Settler struct {
	provider  chain.Provider
	networks  map[string]params.Network
	validator *Validator
	policy    util.RetryPolicy
	log       *zap.Logger
}

func NewSettler(provider chain.Provider, cfg params.Config, validator *Validator, logger *zap.Logger) *Settler {
	return &Settler{
		provider:  provider,
		networks:  cfg.Networks,
		validator: validator,
		policy:    util.RetryPolicy{Attempts: cfg.Settlement.RetryAttempts, Backoff: cfg.Settlement.RetryBackoff},
		log:       logger,
	}
}

// LegResult is the outcome of one chain leg of a trade settlement.
type LegResult struct {
	Submitted bool
	TxHash    common.Hash
	Skipped   string // reason when the leg was never sent
	Err       error
}

// TradeSettlement is the per-trade outcome. Partial marks the dangerous
// state where the source leg moved funds but the destination leg did not.
type TradeSettlement struct {
	Index        int
	SettlementID common.Hash
	SameChain    bool
	Success      bool
	Partial      bool
	Source       LegResult
	Destination  LegResult

	// Nonce fetches that kept failing and fell back to zero.
	Nonce1Defaulted bool
	Nonce2Defaulted bool

	ErrCode   string
	ErrDetail string
}

// OrderResult aggregates settlement of all trades produced by one order.
// Settled is true only when every trade settled.
type OrderResult struct {
	Settled    bool
	Successful int
	Results    []TradeSettlement
}

// SettleOrder settles each trade in sequence. The base order id and each
// trade's timestamp pin the per-trade settlement ids, so a crashed run
// re-deriving them collides with the replay guard instead of double-paying.
func (s *Settler) SettleOrder(ctx context.Context, baseOrderID uint64, trades []book.Trade) OrderResult {
	out := OrderResult{Results: make([]TradeSettlement, 0, len(trades))}
	for i, trade := range trades {
		res := s.settleTrade(ctx, baseOrderID, i, trade)
		if res.Success {
			out.Successful++
		}
		out.Results = append(out.Results, res)
	}
	out.Settled = out.Successful == len(trades) && len(trades) > 0
	return out
}

// parties splits a trade into its seller (ask) and buyer (bid) regardless of
// which side was the maker.
func parties(t book.Trade) (seller, buyer book.Party, ok bool) {
	switch {
	case t.Party1.Side == book.Ask && t.Party2.Side == book.Bid:
		return t.Party1, t.Party2, true
	case t.Party1.Side == book.Bid && t.Party2.Side == book.Ask:
		return t.Party2, t.Party1, true
	default:
		return book.Party{}, book.Party{}, false
	}
}

func (s *Settler) settleTrade(ctx context.Context, baseOrderID uint64, index int, trade book.Trade) TradeSettlement {
	res := TradeSettlement{
		Index:        index,
		SettlementID: SettlementID(baseOrderID, trade.Timestamp, index),
	}
	log := s.log.With(
		zap.Uint64("order_id", baseOrderID),
		zap.Int("trade_index", index),
		zap.String("settlement_id", res.SettlementID.Hex()))

	seller, buyer, ok := parties(trade)
	if !ok {
		return res.fail(CodeInvalidSides,
			fmt.Sprintf("party sides %s/%s", trade.Party1.Side, trade.Party2.Side))
	}

	sourceNet, ok := s.networks[seller.FromNetwork]
	if !ok {
		return res.fail(CodeMissingNetwork, seller.FromNetwork)
	}
	destNet, ok := s.networks[buyer.FromNetwork]
	if !ok {
		return res.fail(CodeMissingNetwork, buyer.FromNetwork)
	}

	// The seller delivers base on the source chain, the buyer delivers quote
	// on the destination chain. Asset symbols come off the trade's orders.
	baseAsset, quoteAsset := tradeAssets(trade)
	baseToken, err := s.validator.ResolveToken(sourceNet, baseAsset)
	if err != nil {
		return res.failErr(err)
	}
	// The quote leg moves on the destination chain, so the trade struct
	// carries the destination chain's quote token address. Same-chain trades
	// collapse to the one network either way.
	quoteTokenDest, err := s.validator.ResolveToken(destNet, quoteAsset)
	if err != nil {
		return res.failErr(err)
	}

	// Escrow preflight. Checked immediately before submission so a balance
	// drained since matching fails here rather than as a revert.
	quoteAmount := trade.Quantity.Mul(trade.Price)
	askCheck, err := s.validator.Check(ctx, sourceNet, seller.Account, baseAsset, trade.Quantity)
	if err != nil {
		return res.failErr(err)
	}
	if !askCheck.Valid {
		return res.fail(CodeAskBaseEscrow,
			fmt.Sprintf("required %s available %s", askCheck.Required, askCheck.Available))
	}
	bidCheck, err := s.validator.Check(ctx, destNet, buyer.Account, quoteAsset, quoteAmount)
	if err != nil {
		return res.failErr(err)
	}
	if !bidCheck.Valid {
		return res.fail(CodeBidQuoteEscrow,
			fmt.Sprintf("required %s available %s", bidCheck.Required, bidCheck.Available))
	}

	sourceAdapter, err := s.provider.Adapter(ctx, sourceNet)
	if err != nil {
		return res.fail(CodeMissingNetwork, sourceNet.Name)
	}
	// Both parties escrowing on the same network share one client; only a
	// cross-chain trade needs a second one resolved.
	destAdapter := sourceAdapter
	if trade.CrossChain() {
		destAdapter, err = s.provider.Adapter(ctx, destNet)
		if err != nil {
			return res.fail(CodeMissingNetwork, destNet.Name)
		}
	}

	// The settlement contracts are owner-gated. Catch a misconfigured key
	// before spending gas on a guaranteed revert.
	for _, a := range []chain.Adapter{sourceAdapter, destAdapter} {
		owner, err := a.ContractOwner(ctx)
		if err != nil {
			return res.fail(CodeSignerNotOwner, fmt.Sprintf("owner lookup: %v", err))
		}
		if owner != a.SignerAddress() {
			return res.fail(CodeSignerNotOwner,
				fmt.Sprintf("signer %s owner %s", a.SignerAddress().Hex(), owner.Hex()))
		}
	}

	nonce1, defaulted1 := s.userNonce(ctx, sourceAdapter, seller.Account, baseToken, log)
	nonce2, defaulted2 := s.userNonce(ctx, destAdapter, buyer.Account, quoteTokenDest, log)
	res.Nonce1Defaulted = defaulted1
	res.Nonce2Defaulted = defaulted2

	data := chain.TradeData{
		OrderId:             [32]byte(res.SettlementID),
		Party1:              common.HexToAddress(seller.Account),
		Party2:              common.HexToAddress(buyer.Account),
		Party1ReceiveWallet: common.HexToAddress(seller.ReceiveWallet),
		Party2ReceiveWallet: common.HexToAddress(buyer.ReceiveWallet),
		BaseAsset:           baseToken,
		QuoteAsset:          quoteTokenDest,
		Price:               chain.ToUnits(trade.Price, chain.SettlementDecimals),
		Quantity:            chain.ToUnits(trade.Quantity, chain.SettlementDecimals),
		Party1Side:          string(book.Ask),
		Party2Side:          string(book.Bid),
		SourceChainId:       big.NewInt(sourceAdapter.ChainID()),
		DestinationChainId:  big.NewInt(destAdapter.ChainID()),
		Timestamp:           big.NewInt(trade.Timestamp),
		Nonce1:              nonce1,
		Nonce2:              nonce2,
	}

	if sourceAdapter.ChainID() == destAdapter.ChainID() {
		return s.settleSameChain(ctx, sourceAdapter, data, res, log)
	}
	return s.settleCrossChain(ctx, sourceAdapter, destAdapter, data, res, log)
}

func (s *Settler) settleSameChain(ctx context.Context, adapter chain.Adapter, data chain.TradeData, res TradeSettlement, log *zap.Logger) TradeSettlement {
	res.SameChain = true
	submit, err := adapter.SettleSameChainTrade(ctx, data)
	res.Source.Submitted = true
	if err != nil {
		res.Source.Err = err
		res.Destination.Skipped = CodeSameChainAtomic
		log.Error("same-chain settlement failed", zap.Error(err))
		return res.fail(CodeSubmissionFailed, err.Error())
	}
	res.Source.TxHash = submit.TxHash
	// One transaction moved both legs; the destination result just mirrors
	// the atomicity.
	res.Destination.Skipped = CodeSameChainAtomic
	res.Success = true
	log.Info("same-chain settlement confirmed", zap.String("tx", submit.TxHash.Hex()))
	return res
}

func (s *Settler) settleCrossChain(ctx context.Context, source, dest chain.Adapter, data chain.TradeData, res TradeSettlement, log *zap.Logger) TradeSettlement {
	srcSubmit, err := source.SettleCrossChainTrade(ctx, data, true)
	res.Source.Submitted = true
	if err != nil {
		res.Source.Err = err
		res.Destination.Skipped = CodeSourceFailed
		log.Error("source leg failed, destination skipped", zap.Error(err))
		return res.fail(CodeSourceFailed, err.Error())
	}
	res.Source.TxHash = srcSubmit.TxHash

	dstSubmit, err := dest.SettleCrossChainTrade(ctx, data, false)
	res.Destination.Submitted = true
	if err != nil {
		// Funds moved on the source chain and did not arrive on the
		// destination. There is no automatic compensation; this needs an
		// operator.
		res.Destination.Err = err
		res.Partial = true
		log.Error("destination leg failed after source succeeded, manual intervention required",
			zap.String("source_tx", srcSubmit.TxHash.Hex()),
			zap.Error(err))
		return res.fail(CodeDestinationFailed, err.Error())
	}
	res.Destination.TxHash = dstSubmit.TxHash
	res.Success = true
	log.Info("cross-chain settlement confirmed",
		zap.String("source_tx", srcSubmit.TxHash.Hex()),
		zap.String("dest_tx", dstSubmit.TxHash.Hex()))
	return res
}

// userNonce fetches the contract nonce with retries, defaulting to zero when
// the chain keeps failing. Defaulting is flagged on the result because a
// wrong nonce reverts the settlement rather than corrupting it.
func (s *Settler) userNonce(ctx context.Context, adapter chain.Adapter, account string, token common.Address, log *zap.Logger) (*big.Int, bool) {
	n, err := util.Retry(ctx, s.policy, func(ctx context.Context) (*big.Int, error) {
		return adapter.UserNonce(ctx, common.HexToAddress(account), token)
	})
	if err != nil {
		log.Warn("nonce fetch failed, defaulting to 0",
			zap.String("account", account),
			zap.Error(err))
		return big.NewInt(0), true
	}
	return n, false
}

func tradeAssets(t book.Trade) (base, quote string) {
	return t.BaseAsset, t.QuoteAsset
}

func (r TradeSettlement) fail(code, detail string) TradeSettlement {
	r.ErrCode = code
	r.ErrDetail = detail
	return r
}

func (r TradeSettlement) failErr(err error) TradeSettlement {
	if se, ok := err.(*Error); ok {
		return r.fail(se.Code, se.Detail)
	}
	return r.fail(CodeSubmissionFailed, err.Error())
}
