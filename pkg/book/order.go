package book

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Bid Side = "bid" // buy base with quote
	Ask Side = "ask" // sell base for quote
)

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

var (
	ErrInvalidSide      = errors.New("invalid side")
	ErrInvalidType      = errors.New("invalid order type")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidPrice     = errors.New("price must be positive for limit orders")
	ErrMissingAccount   = errors.New("account required")
	ErrMissingAsset     = errors.New("base and quote asset required")
	ErrEmptyBook        = errors.New("no opposing orders for market order")
	ErrOrderNotFound    = errors.New("order not found on side")
	ErrAlreadyProcessed = errors.New("order already has an id")
)

// Order is a resting or incoming intent to trade. Quantity is the remaining
// base amount and is decremented in place on partial fills; an order reaching
// zero is removed from the book.
type Order struct {
	ID            uint64
	Account       string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	BaseAsset     string
	QuoteAsset    string
	FromNetwork   string // chain where the order's funds are escrowed
	ToNetwork     string // chain where proceeds should land
	ReceiveWallet string // defaults to Account
	Timestamp     time.Time
}

// NormalizeSide maps free-form input to a Side, also accepting the buy/sell
// aliases the HTTP surface sees.
func NormalizeSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return Bid, true
	case "ask", "sell":
		return Ask, true
	default:
		return "", false
	}
}

func NormalizeType(s string) (OrderType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "limit":
		return Limit, true
	case "market":
		return Market, true
	default:
		return "", false
	}
}

func (o *Order) validate() error {
	if o == nil {
		return errors.New("order required")
	}
	if o.Side != Bid && o.Side != Ask {
		return ErrInvalidSide
	}
	if o.Type != Limit && o.Type != Market {
		return ErrInvalidType
	}
	if strings.TrimSpace(o.Account) == "" {
		return ErrMissingAccount
	}
	if o.BaseAsset == "" || o.QuoteAsset == "" {
		return ErrMissingAsset
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}
	if o.Type == Limit && o.Price.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidPrice
	}
	return nil
}

// Party is one side of an executed trade. Remaining is the party's order
// quantity left on the book after this match.
type Party struct {
	Account       string
	Side          Side
	OrderID       uint64
	Remaining     decimal.Decimal
	FromNetwork   string
	ToNetwork     string
	ReceiveWallet string
}

func partyOf(o *Order) Party {
	recv := o.ReceiveWallet
	if recv == "" {
		recv = o.Account
	}
	return Party{
		Account:       o.Account,
		Side:          o.Side,
		OrderID:       o.ID,
		Remaining:     o.Quantity,
		FromNetwork:   o.FromNetwork,
		ToNetwork:     o.ToNetwork,
		ReceiveWallet: recv,
	}
}

// Trade is the immutable record of one match. Party1 is the maker (the
// resting order whose price was used), Party2 the taker.
type Trade struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	BaseAsset  string
	QuoteAsset string
	Timestamp  int64 // unix seconds
	Party1     Party
	Party2     Party
}

// CrossChain reports whether the two parties escrow on different networks.
// Chain-id equality is decided later against the network registry; this is
// only the cheap name comparison used for routing.
func (t Trade) CrossChain() bool {
	return t.Party1.FromNetwork != t.Party2.FromNetwork
}
