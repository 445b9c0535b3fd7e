package product

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item listed by a seller.
type Product struct {
	ID        string
	SellerID  string
	Name      string
	Category  string
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
}

// Catalog defines the read operations the checkout core needs from the
// product service. Soft-deleted products are never returned.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the visible products among ids; missing ids are
	// silently absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Index maps products by id.
func Index(products []Product) map[string]Product {
	m := make(map[string]Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}
