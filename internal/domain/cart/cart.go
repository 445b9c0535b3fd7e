// Package cart models a user's active shopping cart. Line prices are captured
// when a product is added and are never refreshed from the live catalog.
package cart

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/pricing"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// Line is one product entry of a cart.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	AddedAt   time.Time
}

// Cart is owned by exactly one user and holds at most one line per product.
type Cart struct {
	ID        string
	UserID    string
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Add puts quantity units of a product in the cart. Re-adding a product
// merges into the existing line and keeps its captured price.
func (c *Cart) Add(productID string, quantity int, unitPrice decimal.Decimal, at time.Time) error {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return err
	}
	if i := c.index(productID); i >= 0 {
		c.Lines[i].Quantity += quantity
		return nil
	}
	c.Lines = append(c.Lines, Line{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		AddedAt:   at,
	})
	return nil
}

// Update sets the quantity of an existing line.
func (c *Cart) Update(productID string, quantity int) error {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return err
	}
	i := c.index(productID)
	if i < 0 {
		return apperr.NotFound("product %s is not in the cart", productID)
	}
	c.Lines[i].Quantity = quantity
	return nil
}

// Remove drops the line of a product.
func (c *Cart) Remove(productID string) error {
	i := c.index(productID)
	if i < 0 {
		return apperr.NotFound("product %s is not in the cart", productID)
	}
	c.Lines = slices.Delete(c.Lines, i, i+1)
	return nil
}

// PricingLines converts the cart into pricing input, preserving line order.
func (c *Cart) PricingLines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = pricing.Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return lines
}

// ProductIDs returns the product ids of the cart lines in line order.
func (c *Cart) ProductIDs() []string {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = slices.Clone(c.Lines)
	return &cp
}

func (c *Cart) index(productID string) int {
	return slices.IndexFunc(c.Lines, func(l Line) bool { return l.ProductID == productID })
}

// Repository persists carts. Get returns an empty cart for users without one.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	// GetForUpdate is Get that also locks the cart until the transaction
	// carried by ctx ends, creating the cart row if needed. Concurrent
	// checkouts and edits of one cart serialize on this lock.
	GetForUpdate(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}
