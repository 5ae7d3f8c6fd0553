package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"quantity"`
}

type pairBook struct {
	buys  []*Order
	sells []*Order
}

// Book holds the open orders per trading pair. It only stores; ranking is
// computed per matching cycle because decimal prices don't key a heap well
// and cycles are cap-bounded anyway.
type Book struct {
	mu    sync.RWMutex
	pairs map[string]*pairBook
	index map[string]*Order
}

func New() *Book {
	return &Book{
		pairs: make(map[string]*pairBook),
		index: make(map[string]*Order),
	}
}

func (b *Book) Add(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb := b.pairs[o.Pair]
	if pb == nil {
		pb = &pairBook{}
		b.pairs[o.Pair] = pb
	}
	if o.Side == Buy {
		pb.buys = append(pb.buys, o)
	} else {
		pb.sells = append(pb.sells, o)
	}
	b.index[o.ID] = o
}

func (b *Book) Get(id string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.index[id]
	return o, ok
}

// Remove detaches an order from the open set. The order itself is untouched;
// the caller flips its status.
func (b *Book) Remove(id string) (*Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	delete(b.index, id)
	pb := b.pairs[o.Pair]
	if pb == nil {
		return o, true
	}
	if o.Side == Buy {
		pb.buys = drop(pb.buys, id)
	} else {
		pb.sells = drop(pb.sells, id)
	}
	return o, true
}

func drop(orders []*Order, id string) []*Order {
	for i, o := range orders {
		if o.ID == id {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}

// Pairs returns the trading pairs that currently have open orders.
func (b *Book) Pairs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for pair, pb := range b.pairs {
		if len(pb.buys) > 0 || len(pb.sells) > 0 {
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out
}

// Ranked returns copies of the open order slices in matching priority: buys
// by price descending, sells ascending, ties broken by placement time, and
// market orders ahead of everything on their side.
func (b *Book) Ranked(pair string) (buys, sells []*Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pb := b.pairs[pair]
	if pb == nil {
		return nil, nil
	}
	buys = append(buys, pb.buys...)
	sells = append(sells, pb.sells...)
	sort.SliceStable(buys, func(i, j int) bool {
		if less, decided := marketFirst(buys[i], buys[j]); decided {
			return less
		}
		if !buys[i].Price.Equal(buys[j].Price) {
			return buys[i].Price.GreaterThan(buys[j].Price)
		}
		return buys[i].PlacedAt.Before(buys[j].PlacedAt)
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if less, decided := marketFirst(sells[i], sells[j]); decided {
			return less
		}
		if !sells[i].Price.Equal(sells[j].Price) {
			return sells[i].Price.LessThan(sells[j].Price)
		}
		return sells[i].PlacedAt.Before(sells[j].PlacedAt)
	})
	return buys, sells
}

func marketFirst(a, b *Order) (less, decided bool) {
	am, bm := a.Mode == Market, b.Mode == Market
	switch {
	case am && !bm:
		return true, true
	case !am && bm:
		return false, true
	case am && bm:
		return a.PlacedAt.Before(b.PlacedAt), true
	}
	return false, false
}

// BestAsk returns the lowest resting limit sell price for the pair.
func (b *Book) BestAsk(pair string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pb := b.pairs[pair]
	if pb == nil {
		return decimal.Zero, false
	}
	best := decimal.Zero
	found := false
	for _, o := range pb.sells {
		if o.Mode != Limit {
			continue
		}
		if !found || o.Price.LessThan(best) {
			best = o.Price
			found = true
		}
	}
	return best, found
}

// HasOpen reports whether the pair has any open order on the given side.
func (b *Book) HasOpen(pair string, side Side) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pb := b.pairs[pair]
	if pb == nil {
		return false
	}
	if side == Buy {
		return len(pb.buys) > 0
	}
	return len(pb.sells) > 0
}

// Levels aggregates resting limit quantity per price, bids high to low and
// asks low to high. Market orders carry no price and are excluded.
func (b *Book) Levels(pair string) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pb := b.pairs[pair]
	if pb == nil {
		return nil, nil
	}
	bids = aggregate(pb.buys, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	asks = aggregate(pb.sells, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	return bids, asks
}

func aggregate(orders []*Order, better func(a, b decimal.Decimal) bool) []PriceLevel {
	byPrice := make(map[string]*PriceLevel)
	for _, o := range orders {
		if o.Mode != Limit {
			continue
		}
		key := o.Price.String()
		lvl, ok := byPrice[key]
		if !ok {
			lvl = &PriceLevel{Price: o.Price}
			byPrice[key] = lvl
		}
		lvl.Qty = lvl.Qty.Add(o.Remaining())
	}
	out := make([]PriceLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	return out
}
