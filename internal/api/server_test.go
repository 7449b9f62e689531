package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/persistence"
	"github.com/arkenvault/pileworks/internal/trade"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	merchant := &actor.Actor{
		ID:   "merchant-1",
		Name: "Merchant",
		Flags: actor.PileFlags{
			Enabled: true, IsMerchant: true, InfiniteCurrencies: true,
		},
		Items: []actor.Item{
			{ID: "potion-1", Name: "Potion", Type: "consumable", Quantity: 5, Cost: "1.5"},
		},
	}
	buyer := &actor.Actor{
		ID:         "pc-1",
		Name:       "Wren",
		Attributes: map[string]float64{"system.currency.gp": 2},
	}
	require.NoError(t, db.SaveActor(ctx, merchant))
	require.NoError(t, db.SaveActor(ctx, buyer))

	return &Server{
		Store:    db,
		Hooks:    trade.NewBus(),
		Defaults: currency.DefaultCurrencies(),
		AdminKey: "secret",
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleActorRoutes(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/actor/pc-1", nil)
	w := httptest.NewRecorder()
	s.handleActorRoutes(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var a actor.Actor
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "Wren", a.Name)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/actor/pc-1/currencies", nil)
	w = httptest.NewRecorder()
	s.handleActorRoutes(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var holdings []actor.CurrencyQuantity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, 2, holdings[0].Quantity)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/actor/ghost", nil)
	w = httptest.NewRecorder()
	s.handleActorRoutes(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePriceQuote(t *testing.T) {
	s := testServer(t)

	w := postJSON(t, s.handlePriceQuote, "/api/v1/price-quote", quoteRequest{
		SellerID: "merchant-1",
		BuyerID:  "pc-1",
		ItemID:   "potion-1",
		Quantity: 1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var groups []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, 1.5, groups[0]["baseCost"])

	w = postJSON(t, s.handlePriceQuote, "/api/v1/price-quote", quoteRequest{
		SellerID: "merchant-1", BuyerID: "pc-1", ItemID: "ghost-item",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSettlementPreview_DoesNotMutate(t *testing.T) {
	s := testServer(t)

	body := map[string]any{
		"sellerId": "merchant-1",
		"buyerId":  "pc-1",
		"lines": []map[string]any{
			{"itemId": "potion-1", "groupIndex": 0, "quantity": 1},
		},
	}
	w := postJSON(t, s.handleSettlementPreview, "/api/v1/settlement-preview", body)
	require.Equal(t, http.StatusOK, w.Code)

	var res trade.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.CanBuy)
	assert.Equal(t, 1.5, res.TotalCurrencyCost)

	// Preview leaves holdings untouched.
	a, err := s.Store.Actor(context.Background(), "pc-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, a.Attributes["system.currency.gp"])
}

func TestHandleTrade_Executes(t *testing.T) {
	s := testServer(t)

	body := map[string]any{
		"userId":   "user-1",
		"sellerId": "merchant-1",
		"buyerId":  "pc-1",
		"lines": []map[string]any{
			{"itemId": "potion-1", "groupIndex": 0, "quantity": 1},
		},
	}
	w := postJSON(t, s.handleTrade, "/api/v1/trade", body)
	require.Equal(t, http.StatusOK, w.Code)

	var entry trade.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.True(t, entry.CanBuy)

	a, err := s.Store.Actor(context.Background(), "pc-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Attributes["system.currency.gp"])
	assert.Equal(t, 5.0, a.Attributes["system.currency.sp"])
	require.Len(t, a.Items, 1)
	assert.Equal(t, "Potion", a.Items[0].Name)
}

func TestAdminOnly(t *testing.T) {
	s := testServer(t)
	handler := s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trade", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/trade", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// No key configured: the endpoint is disabled outright.
	s.AdminKey = ""
	req = httptest.NewRequest(http.MethodPost, "/api/v1/trade", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTradeLimiter(t *testing.T) {
	tl := NewTradeLimiter(2, time.Minute)

	key := PairKey("merchant-1", "pc-1")
	assert.True(t, tl.Allow(key))
	assert.True(t, tl.Allow(key))
	assert.False(t, tl.Allow(key))
	assert.Greater(t, tl.RetryAfter(key), 0)

	// Other pairs are unaffected, including the reverse direction.
	assert.True(t, tl.Allow(PairKey("pc-1", "merchant-1")))
	assert.True(t, tl.Allow(PairKey("merchant-2", "pc-1")))
}

func TestHandleTrade_Throttled(t *testing.T) {
	s := testServer(t)
	s.trades = NewTradeLimiter(1, time.Minute)

	body := map[string]any{
		"sellerId": "merchant-1",
		"buyerId":  "pc-1",
		"lines": []map[string]any{
			{"itemId": "potion-1", "groupIndex": 0, "quantity": 1},
		},
	}
	w := postJSON(t, s.handleTrade, "/api/v1/trade", body)
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, s.handleTrade, "/api/v1/trade", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORSMiddleware(t *testing.T) {
	s := testServer(t)
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
