package handler

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/report"
)

// GetReport returns the sales report for ?from=&to=[&top=]. Bounds are either
// RFC 3339 timestamps or YYYY-MM-DD dates in UTC.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q, err := parseReportQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rep, err := h.deps.Reports.Report(r.Context(), principal(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeReport(e, rep) })
}

func parseReportQuery(r *http.Request) (report.Query, error) {
	var (
		q   report.Query
		err error
	)
	values := r.URL.Query()
	if q.From, err = parseBound(values.Get("from")); err != nil {
		return q, apperr.Validation("invalid from: %s", err)
	}
	if q.To, err = parseBound(values.Get("to")); err != nil {
		return q, apperr.Validation("invalid to: %s", err)
	}
	if top := values.Get("top"); top != "" {
		if q.TopN, err = strconv.Atoi(top); err != nil {
			return q, apperr.Validation("invalid top: %q", top)
		}
	}
	return q, nil
}

func parseBound(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, apperr.Validation("value is required")
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func encodeReport(e *jx.Encoder, rep *report.Report) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("scope", func(e *jx.Encoder) { e.Str(string(rep.Scope)) })
		optStr(e, "seller_id", rep.SellerID)
		e.Field("from", func(e *jx.Encoder) { encodeTime(e, rep.From) })
		e.Field("to", func(e *jx.Encoder) { encodeTime(e, rep.To) })
		e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, rep.Revenue) })
		e.Field("order_count", func(e *jx.Encoder) { e.Int(rep.OrderCount) })
		e.Field("daily", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range rep.Daily {
					e.Obj(func(e *jx.Encoder) {
						e.Field("date", func(e *jx.Encoder) { e.Str(b.Date.Format(time.DateOnly)) })
						e.Field("order_count", func(e *jx.Encoder) { e.Int(b.OrderCount) })
						e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, b.Revenue) })
					})
				}
			})
		})
		if rep.StatusBreakdown != nil {
			e.Field("status_breakdown", func(e *jx.Encoder) {
				statuses := make([]order.Status, 0, len(rep.StatusBreakdown))
				for s := range rep.StatusBreakdown {
					statuses = append(statuses, s)
				}
				slices.Sort(statuses)
				e.Obj(func(e *jx.Encoder) {
					for _, s := range statuses {
						e.Field(string(s), func(e *jx.Encoder) { e.Int(rep.StatusBreakdown[s]) })
					}
				})
			})
		}
		if rep.TopProducts != nil {
			e.Field("top_products", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range rep.TopProducts {
						e.Obj(func(e *jx.Encoder) {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(p.ProductID) })
							e.Field("product_name", func(e *jx.Encoder) { e.Str(p.ProductName) })
							e.Field("units", func(e *jx.Encoder) { e.Int(p.Units) })
							e.Field("revenue", func(e *jx.Encoder) { encodeMoney(e, p.Revenue) })
						})
					}
				})
			})
		}
	})
}
