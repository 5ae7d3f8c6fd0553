// Package book keeps the venue's open orders and runs the price/time
// priority matching loop. Matching only pairs orders; the funds movement is
// delegated to the allocation manager, which settles both legs atomically on
// the ledger.
package book

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvault/cantor/pkg/allocation"
	"github.com/finvault/cantor/pkg/ledger"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Mode string

const (
	Limit  Mode = "LIMIT"
	Market Mode = "MARKET"
)

type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
)

// Order is one resting or incoming order. Price is zero for market orders.
// The allocation holds the funds backing the order: quote currency for buys,
// base for sells.
type Order struct {
	ID         string                 `json:"orderId"`
	Owner      ledger.Party           `json:"owner"`
	Pair       string                 `json:"tradingPair"`
	Side       Side                   `json:"side"`
	Mode       Mode                   `json:"mode"`
	Price      decimal.Decimal        `json:"price"`
	Quantity   decimal.Decimal        `json:"quantity"`
	Filled     decimal.Decimal        `json:"filled"`
	Status     Status                 `json:"status"`
	PlacedAt   time.Time              `json:"placedAt"`
	Allocation *allocation.Allocation `json:"-"`
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

func (o *Order) Terminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// applyFill advances filled and flips status. Status never moves backward.
func (o *Order) applyFill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Filled.GreaterThanOrEqual(o.Quantity) {
		o.Filled = o.Quantity
		o.Status = StatusFilled
		return
	}
	o.Status = StatusPartiallyFilled
}

// Trade is one settled match. Immutable once emitted.
type Trade struct {
	ID          string          `json:"tradeId"`
	Pair        string          `json:"tradingPair"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// SplitPair parses "BASE/QUOTE".
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("trading pair %q is not BASE/QUOTE", pair)
	}
	return parts[0], parts[1], nil
}
