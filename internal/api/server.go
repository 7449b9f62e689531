// Package api serves the pricing and settlement engine over HTTP.
// GET endpoints are public (read-only queries and previews).
// POST /api/v1/trade requires a bearer token (it mutates actor records).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/persistence"
	"github.com/arkenvault/pileworks/internal/pricing"
	"github.com/arkenvault/pileworks/internal/trade"
)

// Server serves price quotes, settlement previews, and trade execution.
type Server struct {
	Store       *persistence.DB
	Hooks       *trade.Bus
	Defaults    []currency.Currency // Default currency catalog
	Port        int
	AdminKey    string        // Bearer token for trade execution. Empty = disabled.
	CORSOrigins []string      // Extra allowed origins beyond localhost dev servers.
	TradeRate   int           // Max trades per pair per window. 0 = 60.
	TradeWindow time.Duration // Throttle window. 0 = 1 minute.

	trades *TradeLimiter
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	// Trades mutate records; cap how fast any one pair can fire them.
	rate := s.TradeRate
	if rate <= 0 {
		rate = 60
	}
	window := s.TradeWindow
	if window <= 0 {
		window = time.Minute
	}
	s.trades = NewTradeLimiter(rate, window)

	mux := http.NewServeMux()

	// Public read-only endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("/api/v1/actors", s.handleActors)
	mux.HandleFunc("/api/v1/actor/", s.handleActorRoutes)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)

	// Pure computations: safe to call speculatively, nothing is mutated.
	mux.HandleFunc("/api/v1/price-quote", s.handlePriceQuote)
	mux.HandleFunc("/api/v1/settlement-preview", s.handleSettlementPreview)

	// Trade execution (POST, bearer token, throttled per pair).
	mux.HandleFunc("/api/v1/trade", s.adminOnly(s.handleTrade))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "trade_auth", s.AdminKey != "")

	go func() {
		handler := s.corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins. Localhost
// dev servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range s.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "trade endpoint disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Store.ActorIDs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"actors":     len(ids),
		"currencies": len(s.Defaults),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := currency.NewCatalog(s.Defaults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"currencies":           cat.Entries(),
		"smallestExchangeRate": cat.SmallestExchangeRate(),
		"decimalPrecision":     cat.DecimalPrecision(),
	})
}

func (s *Server) handleActors(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Store.ActorIDs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ids)
}

// handleActorRoutes dispatches GET /api/v1/actor/:id and
// GET /api/v1/actor/:id/currencies.
func (s *Server) handleActorRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/actor/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.Error(w, "actor id required", http.StatusBadRequest)
		return
	}

	a, err := s.loadActor(r.Context(), parts[0], w)
	if err != nil {
		return
	}

	if len(parts) == 1 {
		writeJSON(w, a)
		return
	}

	switch parts[1] {
	case "currencies":
		cat, err := actor.CatalogFor(a, s.Defaults)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		getAll := r.URL.Query().Get("all") == "1"
		writeJSON(w, actor.Currencies(a, cat, getAll))
	default:
		http.NotFound(w, r)
	}
}

type quoteRequest struct {
	SellerID string `json:"sellerId"`
	BuyerID  string `json:"buyerId"`
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

func (s *Server) handlePriceQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seller, buyer, ok := s.loadParties(r.Context(), req.SellerID, req.BuyerID, w)
	if !ok {
		return
	}

	item, ok := findItem(seller, buyer, req.ItemID)
	if !ok {
		http.Error(w, "item not found", http.StatusNotFound)
		return
	}

	groups, err := pricing.Options(item, pricing.Request{
		Seller:   seller,
		Buyer:    buyer,
		Quantity: req.Quantity,
		Defaults: s.Defaults,
		Rand:     newRand(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, groups)
}

type basketRequest struct {
	UserID   string `json:"userId"`
	SellerID string `json:"sellerId"`
	BuyerID  string `json:"buyerId"`
	Lines    []struct {
		ItemID     string `json:"itemId"`
		GroupIndex int    `json:"groupIndex"`
		Quantity   int    `json:"quantity"`
	} `json:"lines"`
}

func (s *Server) handleSettlementPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req basketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	seller, buyer, ok := s.loadParties(r.Context(), req.SellerID, req.BuyerID, w)
	if !ok {
		return
	}
	basket, err := s.buildBasket(req, seller, buyer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	res, err := trade.Settle(basket, pricing.Request{
		Seller:   seller,
		Buyer:    buyer,
		Defaults: s.Defaults,
		Rand:     newRand(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req basketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.trades != nil {
		key := PairKey(req.SellerID, req.BuyerID)
		if !s.trades.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(s.trades.RetryAfter(key)))
			http.Error(w, "trade rate limit exceeded for this pair", http.StatusTooManyRequests)
			return
		}
	}

	seller, buyer, ok := s.loadParties(r.Context(), req.SellerID, req.BuyerID, w)
	if !ok {
		return
	}
	basket, err := s.buildBasket(req, seller, buyer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	entry, err := trade.Execute(r.Context(), trade.TradeContext{
		UserID:   req.UserID,
		Store:    s.Store,
		Hooks:    s.Hooks,
		Defaults: s.Defaults,
		Rand:     newRand(),
	}, basket, req.SellerID, req.BuyerID)
	if errors.Is(err, trade.ErrVetoed) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	records, err := s.Store.RecentTrades(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) buildBasket(req basketRequest, seller, buyer *actor.Actor) ([]trade.Line, error) {
	basket := make([]trade.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		item, ok := findItem(seller, buyer, l.ItemID)
		if !ok {
			return nil, fmt.Errorf("item %s not found", l.ItemID)
		}
		basket = append(basket, trade.Line{Item: item, GroupIndex: l.GroupIndex, Quantity: l.Quantity})
	}
	return basket, nil
}

func (s *Server) loadParties(ctx context.Context, sellerID, buyerID string, w http.ResponseWriter) (seller, buyer *actor.Actor, ok bool) {
	var err error
	if sellerID != "" {
		if seller, err = s.loadActor(ctx, sellerID, w); err != nil {
			return nil, nil, false
		}
	}
	if buyerID != "" {
		if buyer, err = s.loadActor(ctx, buyerID, w); err != nil {
			return nil, nil, false
		}
	}
	return seller, buyer, true
}

func (s *Server) loadActor(ctx context.Context, id string, w http.ResponseWriter) (*actor.Actor, error) {
	a, err := s.Store.Actor(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, err
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, err
	}
	return a, nil
}

// findItem looks the item up on the seller first, then the buyer (selling to
// a merchant quotes the buyer-side merchant against the seller's item).
func findItem(seller, buyer *actor.Actor, itemID string) (actor.Item, bool) {
	for _, a := range []*actor.Actor{seller, buyer} {
		if a == nil {
			continue
		}
		if it := a.ItemByID(itemID); it != nil {
			return *it, true
		}
	}
	return actor.Item{}, false
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
