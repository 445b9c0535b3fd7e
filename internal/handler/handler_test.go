package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/checkout"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/pricing"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/report"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
	"github.com/xenking/kart-marketplace/internal/storage/memory"
)

// --- Helpers ---

var (
	testNow    = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	testPepper = []byte("test-pepper")
)

const (
	customerKey = "customer-key"
	sellerKey   = "seller-key"
	adminKey    = "admin-key"
)

type testServer struct {
	t     *testing.T
	store *memory.Store
	srv   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	clock := func() time.Time { return testNow }

	for _, k := range []auth.APIKeyInfo{
		{ID: "k1", Name: "customer", UserID: "user-1", Role: auth.RoleCustomer, KeyHash: auth.HashAPIKey(testPepper, customerKey)},
		{ID: "k2", Name: "seller", UserID: "seller-1", Role: auth.RoleSeller, KeyHash: auth.HashAPIKey(testPepper, sellerKey)},
		{ID: "k3", Name: "admin", UserID: "admin-1", Role: auth.RoleAdmin, KeyHash: auth.HashAPIKey(testPepper, adminKey)},
	} {
		require.NoError(t, s.APIKeys().Put(ctx, k))
	}
	for _, p := range []struct {
		id, seller, price string
		qty               int
	}{
		{"p1", "seller-1", "100.00", 10},
		{"p2", "seller-2", "50.00", 1},
	} {
		require.NoError(t, s.Catalog().Put(ctx, product.Product{
			ID: p.id, SellerID: p.seller, Name: "Product " + p.id, Price: decimal.RequireFromString(p.price),
		}))
		require.NoError(t, s.Stock().Put(ctx, stock.Record{ProductID: p.id, StockQuantity: p.qty}))
	}
	require.NoError(t, s.Addresses().Put(ctx, address.Address{
		ID: "addr-1", UserID: "user-1", FullName: "Test User", Line1: "1 Main St", City: "Pune", Country: "IN",
	}))
	require.NoError(t, s.Coupons().Put(ctx, coupon.Coupon{
		ID:        "c1",
		Code:      "SAVE10",
		Type:      coupon.TypePercentage,
		Value:     decimal.NewFromInt(10),
		ValidFrom: testNow.AddDate(0, -1, 0),
		ValidTo:   testNow.AddDate(0, 1, 0),
		IsActive:  true,
	}))

	engine, err := checkout.NewEngine(checkout.Deps{
		Carts:     s.Carts(),
		Addresses: s.Addresses(),
		Coupons:   s.Coupons(),
		Catalog:   s.Catalog(),
		Stock:     s.Stock(),
		Orders:    s.Orders(),
		Outbox:    s.Outbox(),
		Tx:        s,
	}, pricing.NewCalculator(decimal.RequireFromString("0.05")), checkout.WithClock(clock))
	require.NoError(t, err)

	h := NewHandler(Deps{
		Carts:     cart.NewService(s.Carts(), s.Catalog(), s, cart.WithClock(clock)),
		Checkout:  engine,
		Orders:    order.NewManager(s.Orders(), s.Outbox(), s, order.WithClock(clock)),
		Reports:   report.NewAggregator(s.Orders(), s),
		Stock:     stock.NewService(s.Stock(), s, clock),
		Products:  s.Catalog(),
		Inventory: s.Stock(),
	})
	return newServer(t, s, h)
}

func newServer(t *testing.T, s *memory.Store, h *Handler) *testServer {
	t.Helper()
	r := chi.NewRouter()
	Mount(r, h, NewSecurityHandler(s.APIKeys(), testPepper))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{t: t, store: s, srv: srv}
}

func (ts *testServer) do(method, path, key, body string) (int, map[string]any) {
	ts.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func linesOf(body map[string]any) []any {
	lines, _ := body["lines"].([]any)
	return lines
}

// --- Tests ---

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing key", key: "", want: http.StatusUnauthorized},
		{name: "unknown key", key: "nope", want: http.StatusUnauthorized},
		{name: "valid key", key: customerKey, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(http.MethodGet, "/api/cart", tt.key, "")
			assert.Equal(t, tt.want, status)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "unauthenticated", body["kind"])
				assert.EqualValues(t, http.StatusUnauthorized, body["code"])
			}
		})
	}
}

func TestCartRoutes(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(http.MethodGet, "/api/cart", customerKey, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, linesOf(body))
	assert.Equal(t, "0.00", body["subtotal"])

	status, body = ts.do(http.MethodPost, "/api/cart/lines", customerKey, `{"product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, status, body)
	require.Len(t, linesOf(body), 1)
	assert.Equal(t, "200.00", body["subtotal"])

	status, body = ts.do(http.MethodPatch, "/api/cart/lines/p1", customerKey, `{"quantity":3}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "300.00", body["subtotal"])

	status, body = ts.do(http.MethodDelete, "/api/cart/lines/p1", customerKey, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, linesOf(body))

	errCases := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantKind string
	}{
		{"unknown product", http.MethodPost, "/api/cart/lines", `{"product_id":"nope","quantity":1}`, http.StatusNotFound, "not_found"},
		{"missing product id", http.MethodPost, "/api/cart/lines", `{"quantity":1}`, http.StatusBadRequest, "validation"},
		{"malformed body", http.MethodPost, "/api/cart/lines", `{"product_id":`, http.StatusBadRequest, "validation"},
		{"zero quantity", http.MethodPost, "/api/cart/lines", `{"product_id":"p1","quantity":0}`, http.StatusBadRequest, "validation"},
		{"missing quantity", http.MethodPatch, "/api/cart/lines/p1", `{}`, http.StatusBadRequest, "validation"},
		{"line not in cart", http.MethodPatch, "/api/cart/lines/p2", `{"quantity":1}`, http.StatusNotFound, "not_found"},
		{"remove absent line", http.MethodDelete, "/api/cart/lines/p2", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(tt.method, tt.path, customerKey, tt.body)
			assert.Equal(t, tt.wantCode, status)
			assert.Equal(t, tt.wantKind, body["kind"])
		})
	}
}

func TestCheckoutAndLifecycle(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(http.MethodPost, "/api/orders", customerKey, `{"address_id":"addr-1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "empty_cart", body["kind"])

	status, _ = ts.do(http.MethodPost, "/api/cart/lines", customerKey, `{"product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(http.MethodPost, "/api/orders", customerKey, `{"address_id":"addr-1","coupon_code":"BOGUS"}`)
	require.Equal(t, http.StatusNotFound, status, body)

	status, body = ts.do(http.MethodPost, "/api/orders", customerKey, `{"address_id":"addr-1","coupon_code":"SAVE10"}`)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "200.00", body["subtotal"])
	assert.Equal(t, "20.00", body["discount"])
	assert.Equal(t, "9.00", body["tax"])
	assert.Equal(t, "189.00", body["total"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "SAVE10", body["coupon_code"])
	require.Len(t, linesOf(body), 1)
	orderID, _ := body["id"].(string)
	require.NotEmpty(t, orderID)

	status, body = ts.do(http.MethodGet, "/api/cart", customerKey, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, linesOf(body), "cart is cleared after checkout")

	status, _ = ts.do(http.MethodGet, "/api/orders/"+orderID, customerKey, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(http.MethodGet, "/api/orders/"+orderID, sellerKey, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(http.MethodGet, "/api/orders/missing", adminKey, "")
	assert.Equal(t, http.StatusNotFound, status)

	statusPath := "/api/orders/" + orderID + "/status"

	status, body = ts.do(http.MethodPatch, statusPath, customerKey, `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "authorization", body["kind"])

	status, body = ts.do(http.MethodPatch, statusPath, sellerKey, `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", body["status"])

	status, body = ts.do(http.MethodPatch, statusPath, adminKey, `{"status":"delivered"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", body["kind"])
	assert.Equal(t, "confirmed", body["from"])
	assert.Equal(t, "delivered", body["to"])

	status, body = ts.do(http.MethodPatch, statusPath, adminKey, `{"status":"shipped","tracking_number":" TRK-1 "}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "TRK-1", body["tracking_number"])
	assert.NotEmpty(t, body["shipped_at"])

	status, body = ts.do(http.MethodPatch, statusPath, adminKey, `{"status":"lost"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["kind"])
}

func TestCheckout_InsufficientStock(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(http.MethodPost, "/api/cart/lines", customerKey, `{"product_id":"p2","quantity":2}`)
	require.Equal(t, http.StatusOK, status)

	status, body := ts.do(http.MethodPost, "/api/orders", customerKey, `{"address_id":"addr-1"}`)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "insufficient_stock", body["kind"])
	assert.Equal(t, []any{"p2"}, body["product_ids"])

	rec, err := ts.store.Stock().Get(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.StockQuantity)
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(http.MethodPost, "/api/cart/lines", customerKey, `{"product_id":"p1","quantity":1}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(http.MethodPost, "/api/orders", customerKey, `{"address_id":"addr-1"}`)
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.do(http.MethodGet, "/api/reports?from=2024-06-01&to=2024-07-01", adminKey, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "platform", body["scope"])
	assert.EqualValues(t, 1, body["order_count"])
	assert.Equal(t, "105.00", body["revenue"])
	assert.Equal(t, map[string]any{"pending": float64(1)}, body["status_breakdown"])

	status, body = ts.do(http.MethodGet, "/api/reports?from=2024-06-01T00:00:00Z&to=2024-07-01T00:00:00Z&top=1", sellerKey, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "seller", body["scope"])
	assert.Equal(t, "100.00", body["revenue"])
	top, _ := body["top_products"].([]any)
	require.Len(t, top, 1)

	errCases := []struct {
		name  string
		query string
		key   string
		want  int
	}{
		{"customer", "?from=2024-06-01&to=2024-07-01", customerKey, http.StatusForbidden},
		{"missing from", "?to=2024-07-01", adminKey, http.StatusBadRequest},
		{"bad top", "?from=2024-06-01&to=2024-07-01&top=x", sellerKey, http.StatusBadRequest},
		{"inverted", "?from=2024-07-01&to=2024-06-01", adminKey, http.StatusBadRequest},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := ts.do(http.MethodGet, "/api/reports"+tt.query, tt.key, "")
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestRestock(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(http.MethodPost, "/api/stock/p2/restock", adminKey, `{"quantity":20}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 21, body["stock_quantity"])
	assert.Equal(t, false, body["low_stock"])
	assert.Equal(t, "2024-06-15T12:00:00Z", body["last_restocked_at"])

	status, _ = ts.do(http.MethodPost, "/api/stock/p2/restock", sellerKey, `{"quantity":1}`)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = ts.do(http.MethodPost, "/api/stock/nope/restock", adminKey, `{"quantity":1}`)
	assert.Equal(t, http.StatusNotFound, status)
}

type failingCarts struct {
	CartService
}

func (failingCarts) Get(context.Context, auth.Principal) (*cart.Cart, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.APIKeys().Put(context.Background(), auth.APIKeyInfo{
		UserID: "user-1", Role: auth.RoleCustomer, KeyHash: auth.HashAPIKey(testPepper, customerKey),
	}))
	ts := newServer(t, s, NewHandler(Deps{Carts: failingCarts{}}))

	status, body := ts.do(http.MethodGet, "/api/cart", customerKey, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", body["kind"])
	assert.Equal(t, "internal error", body["message"])
}

func TestGetProduct(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(http.MethodGet, "/api/products/p1", customerKey, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, "seller-1", body["seller_id"])
	assert.Equal(t, "100.00", body["price"])
	assert.EqualValues(t, 10, body["available"])

	status, body = ts.do(http.MethodGet, "/api/products/nope", customerKey, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["kind"])
}
