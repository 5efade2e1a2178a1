package api

import "github.com/shopspring/decimal"

// OrderRequest is the POST /api/v1/orders body.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Account       string `json:"account"`
	Side          string `json:"side"`
	Type          string `json:"type,omitempty"` // defaults to limit
	Price         string `json:"price,omitempty"`
	Quantity      string `json:"quantity"`
	FromNetwork   string `json:"from_network"`
	ToNetwork     string `json:"to_network"`
	ReceiveWallet string `json:"receive_wallet,omitempty"`
}

// CancelRequest is the POST /api/v1/orders/cancel body.
type CancelRequest struct {
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	OrderID uint64 `json:"order_id"`
}

// TradeInfo is one executed trade.
type TradeInfo struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
	Maker     PartyInfo       `json:"maker"`
	Taker     PartyInfo       `json:"taker"`
}

type PartyInfo struct {
	Account   string          `json:"account"`
	Side      string          `json:"side"`
	OrderID   uint64          `json:"order_id"`
	Remaining decimal.Decimal `json:"remaining"`
}

// SettlementInfo summarizes one trade's settlement outcome.
type SettlementInfo struct {
	SettlementID      string `json:"settlement_id"`
	Success           bool   `json:"success"`
	SameChain         bool   `json:"same_chain"`
	Partial           bool   `json:"partial,omitempty"`
	TxHashSource      string `json:"tx_hash_source,omitempty"`
	TxHashDestination string `json:"tx_hash_destination,omitempty"`
	Error             string `json:"error,omitempty"`
}

// PlaceOrderResponse reports a fully processed order.
type PlaceOrderResponse struct {
	OrderID     uint64           `json:"order_id"`
	Trades      []TradeInfo      `json:"trades"`
	Resting     *RestingInfo     `json:"resting,omitempty"`
	Settlements []SettlementInfo `json:"settlements,omitempty"`
}

type RestingInfo struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderbookSnapshot is the aggregated depth view, bids high-to-low and asks
// low-to-high.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// EscrowBalanceResponse reports a user's escrow holding of one token.
type EscrowBalanceResponse struct {
	Network   string          `json:"network"`
	Account   string          `json:"account"`
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Decimals  int32           `json:"decimals"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client-to-server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage is the channel-tagged broadcast envelope.
type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
