package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// Restock adds {"quantity"} units to a product. Admin only.
func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	quantity, err := decodeQuantity(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.deps.Stock.Restock(r.Context(), principal(r), chi.URLParam(r, "productID"), quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStock(e, rec) })
}

func encodeStock(e *jx.Encoder, rec *stock.Record) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(rec.ProductID) })
		e.Field("stock_quantity", func(e *jx.Encoder) { e.Int(rec.StockQuantity) })
		e.Field("reserved_quantity", func(e *jx.Encoder) { e.Int(rec.ReservedQuantity) })
		e.Field("available", func(e *jx.Encoder) { e.Int(rec.Available()) })
		e.Field("low_stock_threshold", func(e *jx.Encoder) { e.Int(rec.LowStockThreshold) })
		e.Field("low_stock", func(e *jx.Encoder) { e.Bool(rec.IsLowStock()) })
		optTime(e, "last_restocked_at", rec.LastRestockedAt)
	})
}
