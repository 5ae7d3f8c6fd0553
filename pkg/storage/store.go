// Package storage persists orders and trades in Pebble. Values are JSON; key
// layout is documented in keys.go.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/finvault/cantor/pkg/book"
)

type VenueStore struct {
	db *pebble.DB
}

func Open(path string) (*VenueStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &VenueStore{db: db}, nil
}

func (s *VenueStore) Close() error { return s.db.Close() }

// SaveOrder persists the order's current state, terminal or not. The ledger
// allocation backing an open order is not persisted; on restart open orders
// surface for inspection but their locks must be re-established.
func (s *VenueStore) SaveOrder(o *book.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.Pair, o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// LoadOpenOrders returns the pair's non-terminal orders.
func (s *VenueStore) LoadOpenOrders(pair string) ([]*book.Order, error) {
	return s.scanOpenOrders(orderPrefix(pair))
}

// LoadAllOpenOrders returns non-terminal orders across every pair, for
// startup recovery.
func (s *VenueStore) LoadAllOpenOrders() ([]*book.Order, error) {
	return s.scanOpenOrders([]byte(prefixOrder))
}

func (s *VenueStore) scanOpenOrders(prefix []byte) ([]*book.Order, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue
		}
		if !o.Terminal() {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

// LoadOrder returns one order by pair and ID, or nil when absent.
func (s *VenueStore) LoadOrder(pair, id string) (*book.Order, error) {
	data, closer, err := s.db.Get(orderKey(pair, id))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	defer closer.Close()

	var o book.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", id, err)
	}
	return &o, nil
}

// SaveTrade appends an immutable trade record. Trades tolerate NoSync; a
// crash loses at most the tail of the feed, never order state.
func (s *VenueStore) SaveTrade(t book.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Pair, t.Timestamp.UnixNano(), t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades for the pair, newest first.
func (s *VenueStore) RecentTrades(pair string, limit int) ([]book.Trade, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []book.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t book.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}
