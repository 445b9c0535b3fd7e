package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/checkout"
	"github.com/xenking/kart-marketplace/internal/domain/order"
)

// PlaceOrder checks out the caller's cart with {"address_id","coupon_code"}.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceOrderRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "address_id":
			req.AddressID, err = d.Str()
		case "coupon_code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.CouponCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.deps.Checkout.PlaceOrder(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder returns an order visible to the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Orders.Get(r.Context(), principal(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus applies {"status","tracking_number"}.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	req := order.UpdateStatusRequest{OrderID: chi.URLParam(r, "orderID")}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "status":
			req.Status, err = d.Str()
		case "tracking_number":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.TrackingNumber, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.deps.Orders.UpdateStatus(r.Context(), principal(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		optStr(e, "address_id", o.AddressID)
		e.Field("shipping_address", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
		optStr(e, "coupon_code", o.CouponCode)
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, o.Discount) })
		e.Field("tax", func(e *jx.Encoder) { encodeMoney(e, o.Tax) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		optStr(e, "tracking_number", o.TrackingNumber)
		optTime(e, "shipped_at", o.ShippedAt)
		optTime(e, "delivered_at", o.DeliveredAt)
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("product_name", func(e *jx.Encoder) { e.Str(l.ProductName) })
						e.Field("seller_id", func(e *jx.Encoder) { e.Str(l.SellerID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
						e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, l.Discount) })
						e.Field("total", func(e *jx.Encoder) { encodeMoney(e, l.Total) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		optTime(e, "updated_at", o.UpdatedAt)
	})
}

func encodeAddress(e *jx.Encoder, a address.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("full_name", func(e *jx.Encoder) { e.Str(a.FullName) })
		e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
		optStr(e, "line2", a.Line2)
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		optStr(e, "state", a.State)
		e.Field("postal_code", func(e *jx.Encoder) { e.Str(a.PostalCode) })
		e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
		optStr(e, "phone", a.Phone)
	})
}
