package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// Inventory reads stock records.
type Inventory interface {
	Get(ctx context.Context, productID string) (*stock.Record, error)
}

// GetProduct returns a single product with its current availability.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "productID")

	p, err := h.deps.Products.GetByID(ctx, id)
	if err != nil {
		writeError(w, r, apperr.Classify(err, "get product"))
		return
	}

	available := 0
	if h.deps.Inventory != nil {
		rec, err := h.deps.Inventory.Get(ctx, id)
		switch {
		case err == nil:
			available = rec.Available()
		case apperr.KindOf(err) != apperr.KindNotFound:
			writeError(w, r, apperr.Classify(err, "get stock"))
			return
		}
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p, available) })
}

func encodeProduct(e *jx.Encoder, p *product.Product, available int) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("seller_id", func(e *jx.Encoder) { e.Str(p.SellerID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("available", func(e *jx.Encoder) { e.Int(available) })
	})
}
