package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limitOrder(id string, side Side, price, qty string, placedAt time.Time) *Order {
	return &Order{
		ID:       id,
		Owner:    "p::" + "owner",
		Pair:     "ACME/USD",
		Side:     side,
		Mode:     Limit,
		Price:    d(price),
		Quantity: d(qty),
		Status:   StatusOpen,
		PlacedAt: placedAt,
	}
}

func TestRanked_PriceTimePriority(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Add(limitOrder("b-low", Buy, "99", "1", t0))
	b.Add(limitOrder("b-high-late", Buy, "100", "1", t0.Add(2*time.Second)))
	b.Add(limitOrder("b-high-early", Buy, "100", "1", t0.Add(time.Second)))
	b.Add(limitOrder("s-high", Sell, "101", "1", t0))
	b.Add(limitOrder("s-low", Sell, "95", "1", t0.Add(time.Second)))
	mkt := limitOrder("s-market", Sell, "0", "1", t0.Add(3*time.Second))
	mkt.Mode = Market
	b.Add(mkt)

	buys, sells := b.Ranked("ACME/USD")

	wantBuys := []string{"b-high-early", "b-high-late", "b-low"}
	for i, want := range wantBuys {
		if buys[i].ID != want {
			t.Errorf("buys[%d] = %s, want %s", i, buys[i].ID, want)
		}
	}
	wantSells := []string{"s-market", "s-low", "s-high"}
	for i, want := range wantSells {
		if sells[i].ID != want {
			t.Errorf("sells[%d] = %s, want %s", i, sells[i].ID, want)
		}
	}
}

func TestLevels_AggregatesRemaining(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := limitOrder("a", Buy, "100", "10", t0)
	a.Filled = d("4")
	a.Status = StatusPartiallyFilled
	b.Add(a)
	b.Add(limitOrder("b", Buy, "100", "5", t0))
	b.Add(limitOrder("c", Buy, "99", "1", t0))
	b.Add(limitOrder("d", Sell, "101", "2", t0))

	bids, asks := b.Levels("ACME/USD")
	if len(bids) != 2 || len(asks) != 1 {
		t.Fatalf("levels = %d bids / %d asks", len(bids), len(asks))
	}
	if !bids[0].Price.Equal(d("100")) || !bids[0].Qty.Equal(d("11")) {
		t.Errorf("top bid = %s @ %s, want 11 @ 100", bids[0].Qty, bids[0].Price)
	}
	if !asks[0].Price.Equal(d("101")) {
		t.Errorf("top ask price = %s", asks[0].Price)
	}
}

func TestBestAsk_IgnoresMarketOrders(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mkt := limitOrder("m", Sell, "0", "1", t0)
	mkt.Mode = Market
	b.Add(mkt)

	if _, ok := b.BestAsk("ACME/USD"); ok {
		t.Error("market sell must not price the book")
	}
	b.Add(limitOrder("s", Sell, "97", "1", t0))
	ask, ok := b.BestAsk("ACME/USD")
	if !ok || !ask.Equal(d("97")) {
		t.Errorf("best ask = %s %v", ask, ok)
	}
}

func TestRemove_DetachesFromPair(t *testing.T) {
	b := New()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Add(limitOrder("x", Buy, "100", "1", t0))

	if _, ok := b.Remove("x"); !ok {
		t.Fatal("Remove: not found")
	}
	if _, ok := b.Get("x"); ok {
		t.Error("removed order still indexed")
	}
	if len(b.Pairs()) != 0 {
		t.Error("pair still reported open")
	}
	if _, ok := b.Remove("x"); ok {
		t.Error("second remove should report missing")
	}
}

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("ACME/USD")
	if err != nil || base != "ACME" || quote != "USD" {
		t.Errorf("SplitPair = %q/%q, %v", base, quote, err)
	}
	for _, bad := range []string{"ACME", "ACME/", "/USD", "A/B/C"} {
		if _, _, err := SplitPair(bad); err == nil {
			t.Errorf("SplitPair(%q) should fail", bad)
		}
	}
}
