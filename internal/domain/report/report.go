// Package report builds read-only revenue rollups over placed orders.
package report

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/order"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// DefaultTopN is the number of products in a seller report when the query
// does not set one.
const DefaultTopN = 5

// Scope tells whose data a report covers.
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeSeller   Scope = "seller"
)

// Query selects orders created in [From, To).
type Query struct {
	From time.Time
	To   time.Time
	TopN int
}

// DailyBucket aggregates one UTC day. Days without orders are omitted.
type DailyBucket struct {
	Date       time.Time
	OrderCount int
	Revenue    decimal.Decimal
}

// ProductSales aggregates the units and revenue of one product.
type ProductSales struct {
	ProductID   string
	ProductName string
	Units       int
	Revenue     decimal.Decimal
}

// Report is the result of an aggregation. StatusBreakdown is set for the
// platform scope, TopProducts for the seller scope.
type Report struct {
	Scope           Scope
	SellerID        string
	From            time.Time
	To              time.Time
	Revenue         decimal.Decimal
	OrderCount      int
	Daily           []DailyBucket
	StatusBreakdown map[order.Status]int
	TopProducts     []ProductSales
}

// Aggregator computes reports from finished order records.
type Aggregator struct {
	orders order.Repository
	tx     uow.UnitOfWork
}

// NewAggregator creates an Aggregator.
func NewAggregator(orders order.Repository, tx uow.UnitOfWork) *Aggregator {
	return &Aggregator{orders: orders, tx: tx}
}

// Report returns the platform report for admins and the seller-scoped report
// for sellers. Cancelled orders count only in the status breakdown.
func (a *Aggregator) Report(ctx context.Context, actor auth.Principal, q Query) (*Report, error) {
	var scope Scope
	switch actor.Role {
	case auth.RoleAdmin:
		scope = ScopePlatform
	case auth.RoleSeller:
		scope = ScopeSeller
	default:
		return nil, apperr.Authorization("role %q may not view reports", actor.Role)
	}
	if q.From.After(q.To) {
		return nil, apperr.Validation("report range start %s is after end %s",
			q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	if q.TopN < 0 {
		return nil, apperr.Validation("top must not be negative")
	}
	if q.TopN == 0 {
		q.TopN = DefaultTopN
	}

	var orders []order.Order
	err := a.tx.RunReadOnly(ctx, func(ctx context.Context) error {
		var err error
		if orders, err = a.orders.ListBetween(ctx, q.From.UTC(), q.To.UTC()); err != nil {
			return errors.Wrap(err, "list orders")
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(err, "build report")
	}

	if scope == ScopePlatform {
		return platformReport(orders, q), nil
	}
	return sellerReport(orders, actor.ID, q), nil
}

func platformReport(orders []order.Order, q Query) *Report {
	r := &Report{
		Scope:           ScopePlatform,
		From:            q.From,
		To:              q.To,
		Revenue:         decimal.Zero,
		StatusBreakdown: make(map[order.Status]int, len(order.Statuses)),
	}
	daily := newDailySeries()
	for _, o := range orders {
		r.StatusBreakdown[o.Status]++
		if o.Status == order.StatusCancelled {
			continue
		}
		r.OrderCount++
		r.Revenue = r.Revenue.Add(o.Total)
		daily.add(o.CreatedAt, o.Total)
	}
	r.Daily = daily.buckets()
	return r
}

func sellerReport(orders []order.Order, sellerID string, q Query) *Report {
	r := &Report{
		Scope:    ScopeSeller,
		SellerID: sellerID,
		From:     q.From,
		To:       q.To,
		Revenue:  decimal.Zero,
	}
	daily := newDailySeries()
	byProduct := make(map[string]*ProductSales)
	for _, o := range orders {
		if o.Status == order.StatusCancelled {
			continue
		}
		lines := o.SellerLines(sellerID)
		if len(lines) == 0 {
			continue
		}
		revenue := decimal.Zero
		for _, l := range lines {
			revenue = revenue.Add(l.Total)
			ps, ok := byProduct[l.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: l.ProductID, ProductName: l.ProductName, Revenue: decimal.Zero}
				byProduct[l.ProductID] = ps
			}
			ps.Units += l.Quantity
			ps.Revenue = ps.Revenue.Add(l.Total)
		}
		r.OrderCount++
		r.Revenue = r.Revenue.Add(revenue)
		daily.add(o.CreatedAt, revenue)
	}
	r.Daily = daily.buckets()
	r.TopProducts = topProducts(byProduct, q.TopN)
	return r
}

// topProducts ranks by units, then revenue, then product id.
func topProducts(byProduct map[string]*ProductSales, n int) []ProductSales {
	out := make([]ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(a, b ProductSales) int {
		if c := cmp.Compare(b.Units, a.Units); c != 0 {
			return c
		}
		if c := b.Revenue.Cmp(a.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type dailySeries map[time.Time]*DailyBucket

func newDailySeries() dailySeries {
	return make(dailySeries)
}

func (s dailySeries) add(at time.Time, revenue decimal.Decimal) {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	b, ok := s[day]
	if !ok {
		b = &DailyBucket{Date: day, Revenue: decimal.Zero}
		s[day] = b
	}
	b.OrderCount++
	b.Revenue = b.Revenue.Add(revenue)
}

func (s dailySeries) buckets() []DailyBucket {
	out := make([]DailyBucket, 0, len(s))
	for _, b := range s {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b DailyBucket) int {
		return a.Date.Compare(b.Date)
	})
	return out
}
