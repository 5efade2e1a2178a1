// Package exchange ties matching to settlement: an order only becomes a
// durable trade once its on-chain settlement confirmed. A settlement failure
// rolls the incoming order back off the book, so the tape never shows a
// trade that funds did not follow.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/activity"
	"github.com/chainmatch/chainbook/pkg/book"
	"github.com/chainmatch/chainbook/pkg/settle"
)

// OrderRequest is the engine-level order intent, already normalized from
// whatever surface it arrived on.
type OrderRequest struct {
	Symbol        string
	Account       string
	Side          string
	Type          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	FromNetwork   string
	ToNetwork     string
	ReceiveWallet string
}

// PlaceResult reports one order placement end to end.
type PlaceResult struct {
	OrderID    uint64
	Trades     []book.Trade
	Resting    *book.Order
	Settlement *settle.OrderResult // nil when nothing matched
}

type Exchange struct {
	mu    sync.Mutex
	books map[string]*book.OrderBook

	validator *settle.Validator
	settler   *settle.Settler
	activity  *activity.Log
	cfg       params.Config
	log       *zap.Logger
}

func New(cfg params.Config, validator *settle.Validator, settler *settle.Settler, act *activity.Log, logger *zap.Logger) *Exchange {
	return &Exchange{
		books:     make(map[string]*book.OrderBook),
		validator: validator,
		settler:   settler,
		activity:  act,
		cfg:       cfg,
		log:       logger,
	}
}

// Book returns the order book for symbol, creating it on first use.
func (e *Exchange) Book(symbol string) *book.OrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	ob, ok := e.books[symbol]
	if !ok {
		ob = book.NewOrderBook(symbol, e.cfg.TapeSize)
		e.books[symbol] = ob
	}
	return ob
}

// lookup returns the existing book for symbol without creating one. Read
// and cancel paths go through here so arbitrary symbol strings in GET
// requests cannot grow the registry.
func (e *Exchange) lookup(symbol string) (*book.OrderBook, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ob, ok := e.books[symbol]
	return ob, ok
}

// Symbols lists the books that have been touched, for the health endpoint.
func (e *Exchange) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

// splitSymbol parses "HBAR_USDT" into its base and quote assets.
func splitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q: want BASE_QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// PlaceOrder runs the full pipeline: validate, escrow preflight, match,
// settle synchronously, then publish. Any settlement failure cancels the
// incoming order's resting remainder and reports failure; matched maker
// decrements are not restored.
func (e *Exchange) PlaceOrder(ctx context.Context, req OrderRequest) (*PlaceResult, error) {
	order, err := e.buildOrder(req)
	if err != nil {
		return nil, err
	}

	// Pre-trade escrow check on the order's own funds. The bid side escrows
	// quote (price*quantity), the ask side escrows base (quantity). Market
	// bids have no limit price to bound quote escrow, so they skip this and
	// rely on the per-trade preflight in the settler.
	if err := e.preTradeCheck(ctx, order); err != nil {
		return nil, err
	}

	ob := e.Book(req.Symbol)
	res, err := ob.Process(order)
	if err != nil {
		return nil, err
	}

	out := &PlaceResult{OrderID: order.ID, Resting: res.Resting}

	if len(res.Trades) > 0 {
		settleCtx, cancel := context.WithTimeout(ctx, e.cfg.Settlement.SyncTimeout)
		settlement := e.settler.SettleOrder(settleCtx, order.ID, res.Trades)
		cancel()
		out.Settlement = &settlement

		if !settlement.Settled {
			e.rollback(ob, order, res.Resting, settlement)
			return out, fmt.Errorf("settlement failed: %s", firstFailure(settlement))
		}

		ob.RecordTrades(res.Trades)
		out.Trades = res.Trades
		e.publishTrades(req.Symbol, res.Trades, settlement)
	}

	e.activity.Record(activity.Event{
		Type:      activity.TypeOrderPlaced,
		Symbol:    req.Symbol,
		OrderID:   order.ID,
		Account:   order.Account,
		Side:      string(order.Side),
		Price:     order.Price,
		Quantity:  req.Quantity,
		Timestamp: order.Timestamp.Unix(),
	})
	return out, nil
}

func (e *Exchange) buildOrder(req OrderRequest) (*book.Order, error) {
	side, ok := book.NormalizeSide(req.Side)
	if !ok {
		return nil, book.ErrInvalidSide
	}
	typ, ok := book.NormalizeType(req.Type)
	if !ok {
		return nil, book.ErrInvalidType
	}
	base, quote, err := splitSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	if _, ok := e.cfg.Networks[req.FromNetwork]; !ok {
		return nil, fmt.Errorf("%s: %q", settle.CodeMissingNetwork, req.FromNetwork)
	}
	if _, ok := e.cfg.Networks[req.ToNetwork]; !ok {
		return nil, fmt.Errorf("%s: %q", settle.CodeMissingNetwork, req.ToNetwork)
	}

	return &book.Order{
		Account:       req.Account,
		Side:          side,
		Type:          typ,
		Price:         req.Price,
		Quantity:      req.Quantity,
		BaseAsset:     base,
		QuoteAsset:    quote,
		FromNetwork:   req.FromNetwork,
		ToNetwork:     req.ToNetwork,
		ReceiveWallet: req.ReceiveWallet,
	}, nil
}

func (e *Exchange) preTradeCheck(ctx context.Context, order *book.Order) error {
	net := e.cfg.Networks[order.FromNetwork]

	var asset string
	var required decimal.Decimal
	switch {
	case order.Side == book.Ask:
		asset, required = order.BaseAsset, order.Quantity
	case order.Type == book.Limit:
		asset, required = order.QuoteAsset, order.Quantity.Mul(order.Price)
	default:
		return nil
	}

	check, err := e.validator.Check(ctx, net, order.Account, asset, required)
	if err != nil {
		return err
	}
	if !check.Valid {
		code := settle.CodeBidQuoteEscrow
		if order.Side == book.Ask {
			code = settle.CodeAskBaseEscrow
		}
		return &settle.Error{
			Code:   code,
			Detail: fmt.Sprintf("required %s available %s", check.Required, check.Available),
		}
	}
	return nil
}

// rollback takes the incoming order's remainder off the book after a failed
// settlement. Maker orders matched against it are not restored; their
// decrements stand and their owners see the fills vanish without a trade.
func (e *Exchange) rollback(ob *book.OrderBook, order *book.Order, resting *book.Order, settlement settle.OrderResult) {
	e.log.Warn("settlement failed, rolling back order",
		zap.Uint64("order_id", order.ID),
		zap.String("reason", firstFailure(settlement)))

	if resting == nil {
		return
	}
	if _, err := ob.Cancel(order.Side, order.ID); err != nil {
		e.log.Error("rollback cancel failed",
			zap.Uint64("order_id", order.ID),
			zap.Error(err))
	}
}

func (e *Exchange) publishTrades(symbol string, trades []book.Trade, settlement settle.OrderResult) {
	for i, trade := range trades {
		var srcTx, dstTx string
		if i < len(settlement.Results) {
			r := settlement.Results[i]
			srcTx = r.Source.TxHash.Hex()
			if r.SameChain {
				dstTx = r.Source.TxHash.Hex()
			} else {
				dstTx = r.Destination.TxHash.Hex()
			}
		}
		e.activity.Record(activity.Event{
			Type:              activity.TypeTradeExecuted,
			Symbol:            symbol,
			OrderID:           trade.Party2.OrderID,
			Price:             trade.Price,
			Quantity:          trade.Quantity,
			Timestamp:         trade.Timestamp,
			TxHashSource:      srcTx,
			TxHashDestination: dstTx,
		})
	}
}

func firstFailure(settlement settle.OrderResult) string {
	for _, r := range settlement.Results {
		if !r.Success {
			if r.ErrDetail != "" {
				return r.ErrCode + ": " + r.ErrDetail
			}
			return r.ErrCode
		}
	}
	return "unknown"
}

// CancelOrder removes a resting order and records the cancellation.
func (e *Exchange) CancelOrder(symbol, side string, orderID uint64) (*book.Order, error) {
	s, ok := book.NormalizeSide(side)
	if !ok {
		return nil, book.ErrInvalidSide
	}
	ob, ok := e.lookup(symbol)
	if !ok {
		return nil, book.ErrOrderNotFound
	}
	order, err := ob.Cancel(s, orderID)
	if err != nil {
		return nil, err
	}

	e.activity.Record(activity.Event{
		Type:     activity.TypeOrderCancelled,
		Symbol:   symbol,
		OrderID:  order.ID,
		Account:  order.Account,
		Side:     string(order.Side),
		Price:    order.Price,
		Quantity: order.Quantity,
	})
	return order, nil
}

// Depth returns the aggregated book for symbol, empty when no order for
// the symbol was ever accepted.
func (e *Exchange) Depth(symbol string) book.Snapshot {
	if ob, ok := e.lookup(symbol); ok {
		return ob.Depth()
	}
	return book.Snapshot{Symbol: symbol}
}

// Trades returns the most recent settled trades for symbol.
func (e *Exchange) Trades(symbol string, limit int) []book.Trade {
	if ob, ok := e.lookup(symbol); ok {
		return ob.Tape(limit)
	}
	return nil
}

// Activity exposes the event log for the API layer.
func (e *Exchange) Activity() *activity.Log { return e.activity }
