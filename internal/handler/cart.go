package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/cart"
)

// GetCart returns the caller's cart. Users without a cart get an empty one.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Carts.Get(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// AddCartLine adds {"product_id","quantity"} to the cart.
func (h *Handler) AddCartLine(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		quantity  int
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "product_id":
			productID, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && productID == "" {
		err = apperr.Validation("product_id is required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.deps.Carts.AddLine(r.Context(), principal(r), productID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// UpdateCartLine sets {"quantity"} of a line.
func (h *Handler) UpdateCartLine(w http.ResponseWriter, r *http.Request) {
	quantity, err := decodeQuantity(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.deps.Carts.UpdateLine(r.Context(), principal(r), chi.URLParam(r, "productID"), quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

// RemoveCartLine drops a line from the cart.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Carts.RemoveLine(r.Context(), principal(r), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, c)
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (int, error) {
	var (
		quantity int
		seen     bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		if key != "quantity" {
			return d.Skip()
		}
		seen = true
		quantity, err = d.Int()
		return err
	})
	if err == nil && !seen {
		err = apperr.Validation("quantity is required")
	}
	return quantity, err
}

func writeCart(w http.ResponseWriter, status int, c *cart.Cart) {
	writeJSON(w, status, func(e *jx.Encoder) {
		subtotal := decimal.Zero
		e.Obj(func(e *jx.Encoder) {
			optStr(e, "id", c.ID)
			e.Field("user_id", func(e *jx.Encoder) { e.Str(c.UserID) })
			e.Field("lines", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, l := range c.Lines {
						total := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
						subtotal = subtotal.Add(total)
						e.Obj(func(e *jx.Encoder) {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
							e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
							e.Field("line_total", func(e *jx.Encoder) { encodeMoney(e, total) })
							e.Field("added_at", func(e *jx.Encoder) { encodeTime(e, l.AddedAt) })
						})
					}
				})
			})
			e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, subtotal) })
			optTime(e, "updated_at", c.UpdatedAt)
		})
	})
}
