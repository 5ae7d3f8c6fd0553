package book

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/allocation"
	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
	"github.com/finvault/cantor/pkg/util"
)

// Allocator is the allocation manager surface the matcher drives: lock on
// placement, atomic two-leg settle on match, release on cancel.
type Allocator interface {
	Create(ctx context.Context, sender ledger.Party, instrument string, amount decimal.Decimal, settleBefore time.Time) (*allocation.Allocation, error)
	ExecutePair(ctx context.Context, first, second *allocation.Allocation, firstAmount, secondAmount decimal.Decimal, firstReceiver, secondReceiver ledger.Party) error
	Cancel(ctx context.Context, a *allocation.Allocation) error
}

// Store persists orders and settled trades.
type Store interface {
	SaveOrder(o *Order) error
	SaveTrade(t Trade) error
}

// Notifier pushes settled trades to live subscribers.
type Notifier interface {
	BroadcastTrade(t Trade)
}

type nopNotifier struct{}

func (nopNotifier) BroadcastTrade(Trade) {}

// MatcherConfig bounds one matcher instance.
type MatcherConfig struct {
	Interval     time.Duration
	MaxPerCycle  int
	SettleWindow time.Duration
}

// Matcher owns order placement, cancellation and the periodic matching
// cycle. Order state mutates only under mu, so a cancel arriving mid-cycle
// waits for the cycle.
type Matcher struct {
	mu      sync.Mutex
	book    *Book
	alloc   Allocator
	store   Store
	notify  Notifier
	clock   util.Clock
	cfg     MatcherConfig
	log     *zap.SugaredLogger
	trigger chan struct{}
}

func NewMatcher(b *Book, alloc Allocator, store Store, notify Notifier, clock util.Clock, cfg MatcherConfig, log *zap.SugaredLogger) *Matcher {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Matcher{
		book:    b,
		alloc:   alloc,
		store:   store,
		notify:  notify,
		clock:   clock,
		cfg:     cfg,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// SetNotifier hooks a live trade feed in after construction. The API server
// needs the matcher to exist first, so wiring happens in two steps; call
// before Run.
func (m *Matcher) SetNotifier(n Notifier) {
	if n != nil {
		m.notify = n
	}
}

// PlaceOrder locks the backing funds and rests the order. Buys lock quote
// currency at price times quantity (market buys price against the best
// resting ask); sells lock the base quantity. An uncoverable lock fails fast
// with insufficient_funds and nothing rests.
func (m *Matcher) PlaceOrder(ctx context.Context, owner ledger.Party, pair string, side Side, mode Mode, price, qty decimal.Decimal) (*Order, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return nil, err
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	switch mode {
	case Limit:
		if price.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("limit order needs a positive price")
		}
	case Market:
		price = decimal.Zero
	default:
		return nil, fmt.Errorf("unknown order mode %q", mode)
	}

	var instrument string
	var lockAmount decimal.Decimal
	switch side {
	case Buy:
		instrument = quote
		lockPrice := price
		if mode == Market {
			ask, ok := m.book.BestAsk(pair)
			if !ok {
				return nil, fmt.Errorf("no resting ask to price a market buy on %s", pair)
			}
			lockPrice = ask
		}
		lockAmount = lockPrice.Mul(qty)
	case Sell:
		if mode == Market && !m.book.HasOpen(pair, Buy) {
			return nil, fmt.Errorf("no resting bid to match a market sell on %s", pair)
		}
		instrument = base
		lockAmount = qty
	default:
		return nil, fmt.Errorf("unknown order side %q", side)
	}

	a, err := m.alloc.Create(ctx, owner, instrument, lockAmount, m.clock.Now().Add(m.cfg.SettleWindow))
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:         uuid.NewString(),
		Owner:      owner,
		Pair:       pair,
		Side:       side,
		Mode:       mode,
		Price:      price,
		Quantity:   qty,
		Filled:     decimal.Zero,
		Status:     StatusOpen,
		PlacedAt:   m.clock.Now(),
		Allocation: a,
	}
	m.book.Add(o)
	m.saveOrder(o)
	m.log.Infow("order_placed",
		"order_id", o.ID,
		"owner", owner,
		"pair", pair,
		"side", side,
		"mode", mode,
		"price", price.String(),
		"quantity", qty.String())
	m.Trigger()
	return o, nil
}

// CancelOrder releases the order's remaining lock and removes it from the
// book. Cancelling a terminal order returns it unchanged.
func (m *Matcher) CancelOrder(ctx context.Context, id string, owner ledger.Party) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.book.Get(id)
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("order %s is not owned by %s", id, owner)
	}
	if o.Terminal() {
		return o, nil
	}
	if err := m.alloc.Cancel(ctx, o.Allocation); err != nil {
		return nil, err
	}
	m.book.Remove(id)
	o.Status = StatusCancelled
	m.saveOrder(o)
	m.log.Infow("order_cancelled", "order_id", id, "owner", owner)
	return o, nil
}

// Trigger requests an out-of-band matching cycle. Non-blocking; a pending
// trigger absorbs further ones.
func (m *Matcher) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run drives cycles on the configured interval plus out-of-band triggers
// until the context ends.
func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		n, err := m.RunMatchingCycle(ctx)
		if err != nil {
			m.log.Warnw("matching_cycle_aborted", "matched", n, "err", err)
			continue
		}
		if n > 0 {
			m.log.Infow("matching_cycle_done", "matched", n)
		}
	}
}

// RunMatchingCycle walks every pair with open orders in price/time priority
// and settles crossed pairs, up to the per-cycle cap. A transient ledger
// failure aborts the cycle and leaves everything open for the next tick; a
// stale allocation cancels only the affected order.
func (m *Matcher) RunMatchingCycle(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := 0
	for _, pair := range m.book.Pairs() {
		n, err := m.matchPair(ctx, pair, m.cfg.MaxPerCycle-matched)
		matched += n
		if err != nil {
			return matched, err
		}
		if matched >= m.cfg.MaxPerCycle {
			break
		}
	}
	return matched, nil
}

func (m *Matcher) matchPair(ctx context.Context, pair string, budget int) (int, error) {
	buys, sells := m.book.Ranked(pair)
	matched := 0
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) && matched < budget {
		buy, sell := buys[bi], sells[si]
		if buy.Terminal() || buy.Remaining().IsZero() {
			bi++
			continue
		}
		if sell.Terminal() || sell.Remaining().IsZero() {
			si++
			continue
		}
		// Two market orders carry no price between them.
		if buy.Mode == Market && sell.Mode == Market {
			si++
			continue
		}
		crossed := buy.Mode == Market || sell.Mode == Market || buy.Price.GreaterThanOrEqual(sell.Price)
		if !crossed {
			// Priority order: if the best pair doesn't cross, none do.
			break
		}

		qty := decimal.Min(buy.Remaining(), sell.Remaining())
		price := sell.Price
		if sell.Mode == Market {
			price = buy.Price
		}

		err := m.alloc.ExecutePair(ctx,
			buy.Allocation, sell.Allocation,
			price.Mul(qty), qty,
			sell.Owner, buy.Owner)
		switch {
		case err == nil:
			m.commitMatch(ctx, pair, buy, sell, price, qty)
			matched++
			if buy.Terminal() {
				bi++
			}
			if sell.Terminal() {
				si++
			}
		case errs.CodeOf(err) == errs.CodeStale:
			dropped := false
			if m.dropIfDead(ctx, buy) {
				bi++
				dropped = true
			}
			if m.dropIfDead(ctx, sell) {
				si++
				dropped = true
			}
			if !dropped {
				bi++
			}

		case errs.CodeOf(err) == errs.CodeSigningKeyMissing:
			// One side cannot sign; neither order of this candidate pair can
			// match until keys are onboarded. Other candidates still run.
			m.log.Warnw("match_skipped_unsignable",
				"buy_order", buy.ID, "sell_order", sell.ID, "err", err)
			bi++
			si++
		case errs.Retryable(err):
			return matched, err
		default:
			m.log.Warnw("match_skipped",
				"buy_order", buy.ID, "sell_order", sell.ID,
				"classification", errs.CodeOf(err), "err", err)
			bi++
			si++
		}
	}
	return matched, nil
}

func (m *Matcher) commitMatch(ctx context.Context, pair string, buy, sell *Order, price, qty decimal.Decimal) {
	buy.applyFill(qty)
	sell.applyFill(qty)
	trade := Trade{
		ID:          uuid.NewString(),
		Pair:        pair,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Price:       price,
		Quantity:    qty,
		Timestamp:   m.clock.Now(),
	}
	for _, o := range []*Order{buy, sell} {
		if o.Status == StatusFilled {
			m.book.Remove(o.ID)
			m.releaseLeftover(ctx, o)
		}
		m.saveOrder(o)
	}
	if err := m.store.SaveTrade(trade); err != nil {
		m.log.Errorw("trade_persist_failed", "trade_id", trade.ID, "err", err)
	}
	m.notify.BroadcastTrade(trade)
	m.log.Infow("trade_settled",
		"trade_id", trade.ID,
		"pair", pair,
		"price", price.String(),
		"quantity", qty.String(),
		"buy_order", buy.ID,
		"sell_order", sell.ID)
}

// releaseLeftover returns the unspent part of a filled order's lock. Price
// improvement on a buy leaves quote currency locked beyond what the fills
// consumed.
func (m *Matcher) releaseLeftover(ctx context.Context, o *Order) {
	if o.Allocation == nil || o.Allocation.State() != allocation.StateLocked {
		return
	}
	if err := m.alloc.Cancel(ctx, o.Allocation); err != nil {
		m.log.Warnw("leftover_release_failed", "order_id", o.ID, "err", err)
	}
}

// dropIfDead cancels an order whose allocation went terminal under it. The
// counterparty keeps its place in the book.
func (m *Matcher) dropIfDead(ctx context.Context, o *Order) bool {
	st := o.Allocation.State()
	if st == allocation.StateLocked {
		return false
	}
	m.book.Remove(o.ID)
	o.Status = StatusCancelled
	m.saveOrder(o)
	m.log.Warnw("order_dropped_stale_allocation",
		"order_id", o.ID, "allocation_state", st.String())
	return true
}

func (m *Matcher) saveOrder(o *Order) {
	if err := m.store.SaveOrder(o); err != nil {
		m.log.Errorw("order_persist_failed", "order_id", o.ID, "err", err)
	}
}
