// Package handler exposes the checkout and order core over HTTP. Request and
// response bodies are JSON encoded with jx; every route requires an API key.
package handler

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/checkout"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/report"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// CartService edits and reads the caller's cart.
type CartService interface {
	Get(ctx context.Context, actor auth.Principal) (*cart.Cart, error)
	AddLine(ctx context.Context, actor auth.Principal, productID string, quantity int) (*cart.Cart, error)
	UpdateLine(ctx context.Context, actor auth.Principal, productID string, quantity int) (*cart.Cart, error)
	RemoveLine(ctx context.Context, actor auth.Principal, productID string) (*cart.Cart, error)
}

// Checkout places orders.
type Checkout interface {
	PlaceOrder(ctx context.Context, actor auth.Principal, req checkout.PlaceOrderRequest) (*order.Order, error)
}

// OrderManager reads orders and moves them through their lifecycle.
type OrderManager interface {
	Get(ctx context.Context, actor auth.Principal, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, actor auth.Principal, req order.UpdateStatusRequest) (*order.Order, error)
}

// Reporter builds sales reports.
type Reporter interface {
	Report(ctx context.Context, actor auth.Principal, q report.Query) (*report.Report, error)
}

// Restocker adds inventory.
type Restocker interface {
	Restock(ctx context.Context, actor auth.Principal, productID string, quantity int) (*stock.Record, error)
}

// Deps are the services behind the HTTP handlers.
type Deps struct {
	Carts     CartService
	Checkout  Checkout
	Orders    OrderManager
	Reports   Reporter
	Stock     Restocker
	Products  product.Catalog
	Inventory Inventory
}

// Handler serves the /api routes.
type Handler struct {
	deps Deps
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Register adds the API routes to r. Callers mount r under /api and install
// SecurityHandler.Authenticate in front of it.
func (h *Handler) Register(r chi.Router) {
	r.Get("/products/{productID}", h.GetProduct)

	r.Get("/cart", h.GetCart)
	r.Post("/cart/lines", h.AddCartLine)
	r.Patch("/cart/lines/{productID}", h.UpdateCartLine)
	r.Delete("/cart/lines/{productID}", h.RemoveCartLine)

	r.Post("/orders", h.PlaceOrder)
	r.Get("/orders/{orderID}", h.GetOrder)
	r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)

	r.Get("/reports", h.GetReport)

	r.Post("/stock/{productID}/restock", h.Restock)
}

// Mount registers the authenticated API under /api on r.
func Mount(r chi.Router, h *Handler, sec *SecurityHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(sec.Authenticate)
		h.Register(r)
	})
}
