// Package api exposes the venue over REST and WebSocket: order placement and
// cancellation, order book snapshots, trade history, and a live trade feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvault/cantor/pkg/book"
	"github.com/finvault/cantor/pkg/errs"
	"github.com/finvault/cantor/pkg/ledger"
)

// Exchange is the matcher surface the server drives.
type Exchange interface {
	PlaceOrder(ctx context.Context, owner ledger.Party, pair string, side book.Side, mode book.Mode, price, qty decimal.Decimal) (*book.Order, error)
	CancelOrder(ctx context.Context, id string, owner ledger.Party) (*book.Order, error)
}

// TradeHistory serves the persisted trade feed.
type TradeHistory interface {
	RecentTrades(pair string, limit int) ([]book.Trade, error)
}

type Server struct {
	exchange Exchange
	book     *book.Book
	trades   TradeHistory
	ready    func() bool
	router   *mux.Router
	hub      *Hub
	httpSrv  *http.Server
	log      *zap.SugaredLogger
}

func NewServer(exchange Exchange, b *book.Book, trades TradeHistory, ready func() bool, log *zap.SugaredLogger) *Server {
	s := &Server{
		exchange: exchange,
		book:     b,
		trades:   trades,
		ready:    ready,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/pairs/{base}/{quote}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}/trades", s.handleGetTrades).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// BroadcastTrade implements book.Notifier: push the trade and a fresh book
// snapshot to subscribers.
func (s *Server) BroadcastTrade(t book.Trade) {
	s.hub.BroadcastToChannel("trades:"+t.Pair, TradeUpdate{Type: "trade", Trade: tradeInfo(t)})

	bids, asks := s.book.Levels(t.Pair)
	s.hub.BroadcastToChannel("orderbook:"+t.Pair, OrderbookUpdate{
		Type:      "orderbook",
		Pair:      t.Pair,
		Bids:      priceLevels(bids),
		Asks:      priceLevels(asks),
		Timestamp: nowMillis(),
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Owner == "" || req.Pair == "" {
		respondError(w, http.StatusBadRequest, "owner and tradingPair are required", "")
		return
	}
	price, ok := parseDecimal(req.Price)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid price", req.Price)
		return
	}
	qty, ok := parseDecimal(req.Quantity)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid quantity", req.Quantity)
		return
	}

	o, err := s.exchange.PlaceOrder(r.Context(),
		ledger.Party(req.Owner), req.Pair,
		book.Side(req.Side), book.Mode(req.Mode),
		price, qty)
	if err != nil {
		status, label := statusFor(err)
		respondError(w, status, label, err.Error())
		return
	}
	s.log.Debugw("order_accepted", "order_id", o.ID, "owner", req.Owner)
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" || req.Owner == "" {
		respondError(w, http.StatusBadRequest, "orderId and owner are required", "")
		return
	}

	o, err := s.exchange.CancelOrder(r.Context(), req.OrderID, ledger.Party(req.Owner))
	if err != nil {
		status, label := statusFor(err)
		respondError(w, status, label, err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, ok := s.book.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair := vars["base"] + "/" + vars["quote"]
	bids, asks := s.book.Levels(pair)
	respondJSON(w, OrderbookSnapshot{
		Pair:      pair,
		Bids:      priceLevels(bids),
		Asks:      priceLevels(asks),
		Timestamp: nowMillis(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pair := vars["base"] + "/" + vars["quote"]
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 || limit > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
	}

	trades, err := s.trades.RecentTrades(pair, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade history unavailable", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleReady reports whether the ledger connection is usable; load balancers
// hold traffic until it is.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		respondError(w, http.StatusServiceUnavailable, "ledger not ready", "")
		return
	}
	respondJSON(w, map[string]string{"status": "ready"})
}

// statusFor maps settlement error classifications to HTTP statuses.
func statusFor(err error) (int, string) {
	var env *errs.E
	if !errors.As(err, &env) {
		return http.StatusBadRequest, "invalid order"
	}
	switch env.Code {
	case errs.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity, "insufficient funds"
	case errs.CodeStale:
		return http.StatusConflict, "stale"
	case errs.CodeSigningKeyMissing:
		return http.StatusConflict, "signing key missing"
	case errs.CodeAuthorizationRejected:
		return http.StatusForbidden, "authorization rejected"
	case errs.CodeTransientSynchronizer:
		return http.StatusServiceUnavailable, "ledger temporarily unavailable"
	default:
		return http.StatusInternalServerError, "ledger error"
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, label, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: label, Message: message})
}
