package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// statusOf maps an error kind to its HTTP status code.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindEmptyCart, apperr.KindCouponInvalid:
		return http.StatusUnprocessableEntity
	case apperr.KindInsufficientStock, apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case kindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as {"code","kind","message"} plus any structured
// details the error carries. Internal errors are logged and their message is
// never exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		kind = apperr.KindInternal
		msg = "internal error"
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var (
		stockErr      *stock.InsufficientStockError
		couponErr     *coupon.CouponInvalidError
		transitionErr *order.InvalidTransitionError
	)
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("kind", func(e *jx.Encoder) { e.Str(string(kind)) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			switch {
			case errors.As(err, &stockErr):
				e.Field("product_ids", func(e *jx.Encoder) { encodeStrings(e, stockErr.ProductIDs) })
			case errors.As(err, &couponErr):
				e.Field("reason", func(e *jx.Encoder) { e.Str(couponErr.Reason) })
			case errors.As(err, &transitionErr):
				e.Field("from", func(e *jx.Encoder) { e.Str(string(transitionErr.From)) })
				e.Field("to", func(e *jx.Encoder) { e.Str(string(transitionErr.To)) })
			}
		})
	})
}
