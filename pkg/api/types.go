package api

// Request and response types for REST endpoints and WebSocket messages.

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvault/cantor/pkg/book"
)

type PlaceOrderRequest struct {
	Owner    string `json:"owner"`
	Pair     string `json:"tradingPair"`
	Side     string `json:"side"`  // BUY | SELL
	Mode     string `json:"mode"`  // LIMIT | MARKET
	Price    string `json:"price"` // ignored for MARKET
	Quantity string `json:"quantity"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Owner   string `json:"owner"`
}

type OrderInfo struct {
	ID        string `json:"orderId"`
	Owner     string `json:"owner"`
	Pair      string `json:"tradingPair"`
	Side      string `json:"side"`
	Mode      string `json:"mode"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Filled    string `json:"filled"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	PlacedAt  int64  `json:"placedAt"` // Unix milliseconds
}

func orderInfo(o *book.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     string(o.Owner),
		Pair:      o.Pair,
		Side:      string(o.Side),
		Mode:      string(o.Mode),
		Price:     o.Price.String(),
		Quantity:  o.Quantity.String(),
		Filled:    o.Filled.String(),
		Remaining: o.Remaining().String(),
		Status:    string(o.Status),
		PlacedAt:  o.PlacedAt.UnixMilli(),
	}
}

// PriceLevel is a [price, size] tuple as strings to keep decimal precision on
// the wire.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func priceLevels(levels []book.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevel{Price: lvl.Price.String(), Size: lvl.Qty.String()}
	}
	return out
}

type OrderbookSnapshot struct {
	Pair      string       `json:"tradingPair"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

type TradeInfo struct {
	ID          string `json:"tradeId"`
	Pair        string `json:"tradingPair"`
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Timestamp   int64  `json:"timestamp"` // Unix milliseconds
}

func tradeInfo(t book.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID,
		Pair:        t.Pair,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       t.Price.String(),
		Quantity:    t.Quantity.String(),
		Timestamp:   t.Timestamp.UnixMilli(),
	}
}

// TradeUpdate is the WebSocket push for a settled trade.
type TradeUpdate struct {
	Type  string    `json:"type"` // "trade"
	Trade TradeInfo `json:"trade"`
}

// OrderbookUpdate is the WebSocket push after the book changes.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Pair      string       `json:"tradingPair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// WSSubscribeRequest is the client-side subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
