package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/book"
	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
)

type fakeExchange struct {
	placeErr  error
	cancelErr error
	placed    []PlaceOrderRequest
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, owner ledger.Party, pair string, side book.Side, mode book.Mode, price, qty decimal.Decimal) (*book.Order, error) {
	f.placed = append(f.placed, PlaceOrderRequest{
		Owner: string(owner), Pair: pair, Side: string(side), Mode: string(mode),
		Price: price.String(), Quantity: qty.String(),
	})
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &book.Order{
		ID: "o-1", Owner: owner, Pair: pair, Side: side, Mode: mode,
		Price: price, Quantity: qty, Status: book.StatusOpen,
		PlacedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, id string, owner ledger.Party) (*book.Order, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &book.Order{ID: id, Owner: owner, Status: book.StatusCancelled}, nil
}

type fakeHistory struct {
	trades []book.Trade
}

func (f *fakeHistory) RecentTrades(pair string, limit int) ([]book.Trade, error) {
	return f.trades, nil
}

func newTestServer(ex *fakeExchange, b *book.Book, hist *fakeHistory, ready func() bool) *Server {
	if b == nil {
		b = book.New()
	}
	if hist == nil {
		hist = &fakeHistory{}
	}
	return NewServer(ex, b, hist, ready, zap.NewNop().Sugar())
}

func TestPlaceOrder_OK(t *testing.T) {
	ex := &fakeExchange{}
	s := newTestServer(ex, nil, nil, nil)

	body := `{"owner":"alice","tradingPair":"ACME/USD","side":"BUY","mode":"LIMIT","price":"100","quantity":"10"}`
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp OrderInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "o-1" || resp.Status != "OPEN" || resp.Remaining != "10" {
		t.Errorf("response = %+v", resp)
	}
	if len(ex.placed) != 1 || ex.placed[0].Owner != "alice" {
		t.Errorf("placed = %+v", ex.placed)
	}
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient_funds", errs.New(errs.CodeInsufficientFunds), http.StatusUnprocessableEntity},
		{"transient", errs.New(errs.CodeTransientSynchronizer), http.StatusServiceUnavailable},
		{"authorization", errs.New(errs.CodeAuthorizationRejected), http.StatusForbidden},
		{"validation", errsNew("quantity must be positive"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeExchange{placeErr: tc.err}, nil, nil, nil)
			body := `{"owner":"alice","tradingPair":"ACME/USD","side":"BUY","mode":"LIMIT","price":"100","quantity":"10"}`
			req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func errsNew(msg string) error { return &plainError{msg} }

type plainError struct{ msg string }

func (e *plainError) Error() string { return e.msg }

func TestPlaceOrder_RejectsBadDecimal(t *testing.T) {
	s := newTestServer(&fakeExchange{}, nil, nil, nil)
	body := `{"owner":"alice","tradingPair":"ACME/USD","side":"BUY","mode":"LIMIT","price":"abc","quantity":"10"}`
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCancelOrder_OK(t *testing.T) {
	s := newTestServer(&fakeExchange{}, nil, nil, nil)
	body := `{"orderId":"o-1","owner":"alice"}`
	req := httptest.NewRequest("POST", "/api/v1/orders/cancel", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp OrderInfo
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "CANCELLED" {
		t.Errorf("status = %s", resp.Status)
	}
}

func TestGetOrderbook_Snapshot(t *testing.T) {
	b := book.New()
	b.Add(&book.Order{
		ID: "o-1", Pair: "ACME/USD", Side: book.Buy, Mode: book.Limit,
		Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("10"),
		Status: book.StatusOpen,
	})
	s := newTestServer(&fakeExchange{}, b, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/pairs/ACME/USD/orderbook", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap OrderbookSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Pair != "ACME/USD" || len(snap.Bids) != 1 || snap.Bids[0].Price != "100" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestGetTrades(t *testing.T) {
	hist := &fakeHistory{trades: []book.Trade{{
		ID: "t-1", Pair: "ACME/USD",
		Price:    decimal.RequireFromString("95"),
		Quantity: decimal.RequireFromString("10"),
	}}}
	s := newTestServer(&fakeExchange{}, nil, hist, nil)

	req := httptest.NewRequest("GET", "/api/v1/pairs/ACME/USD/trades?limit=5", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var trades []TradeInfo
	json.Unmarshal(rec.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].Price != "95" {
		t.Errorf("trades = %+v", trades)
	}
}

func TestReadyEndpoint(t *testing.T) {
	ready := false
	s := newTestServer(&fakeExchange{}, nil, nil, func() bool { return ready })

	req := httptest.NewRequest("GET", "/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before the ledger is up", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
