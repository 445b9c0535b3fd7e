// Package order defines the order aggregate, its status state machine and the
// lifecycle manager that governs post-placement transitions.
package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
)

// ErrNumberTaken is returned by Repository.Create when the generated order
// number collides with an existing one.
var ErrNumberTaken = errors.New("order number already taken")

// PaymentStatus is the state of the reserved payment record. No gateway is
// integrated, so orders stay pending.
type PaymentStatus string

const PaymentPending PaymentStatus = "pending"

// Line is an immutable snapshot of a cart line taken at checkout.
type Line struct {
	ID          string
	ProductID   string
	ProductName string
	SellerID    string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Order holds the financial snapshot fixed at placement plus the mutable
// fulfillment envelope (status, tracking, shipped and delivered times).
type Order struct {
	ID              string
	Number          string
	UserID          string
	AddressID       string
	ShippingAddress address.Snapshot
	CouponID        string
	CouponCode      string
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	PaymentStatus   PaymentStatus
	Status          Status
	TrackingNumber  string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	Lines           []Line
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	DeletedAt       *time.Time
}

// Fulfillment is the only part of an order that changes after creation.
type Fulfillment struct {
	Status         Status
	TrackingNumber string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	UpdatedAt      time.Time
}

// Fulfillment returns the current envelope of o.
func (o *Order) Fulfillment() Fulfillment {
	f := Fulfillment{
		Status:         o.Status,
		TrackingNumber: o.TrackingNumber,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
	}
	if o.UpdatedAt != nil {
		f.UpdatedAt = *o.UpdatedAt
	}
	return f
}

// Apply overwrites the fulfillment envelope of o.
func (o *Order) Apply(f Fulfillment) {
	o.Status = f.Status
	o.TrackingNumber = f.TrackingNumber
	o.ShippedAt = f.ShippedAt
	o.DeliveredAt = f.DeliveredAt
	at := f.UpdatedAt
	o.UpdatedAt = &at
}

// HasSeller reports whether at least one line belongs to sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	return slices.ContainsFunc(o.Lines, func(l Line) bool { return l.SellerID == sellerID })
}

// SellerLines returns the lines sold by sellerID.
func (o *Order) SellerLines(sellerID string) []Line {
	var out []Line
	for _, l := range o.Lines {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out
}

// VisibleTo reports whether p may read o: customers see their own orders,
// sellers see orders containing their products, admins see everything.
func (o *Order) VisibleTo(p auth.Principal) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleSeller:
		return o.HasSeller(p.ID)
	case auth.RoleCustomer:
		return o.UserID == p.ID
	default:
		return false
	}
}

// Clone returns a deep copy of o.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	cp.ShippedAt = cloneTime(o.ShippedAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.UpdatedAt = cloneTime(o.UpdatedAt)
	cp.DeletedAt = cloneTime(o.DeletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Repository persists orders. Soft-deleted orders are invisible to every read.
type Repository interface {
	// Create inserts the order and its lines. A duplicate number yields
	// ErrNumberTaken.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate reads the order and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateFulfillment(ctx context.Context, id string, f Fulfillment) error
	// ListBetween returns orders created in [from, to).
	ListBetween(ctx context.Context, from, to time.Time) ([]Order, error)
}
