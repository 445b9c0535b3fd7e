// Package stock models per-product inventory and the ledger operations the
// checkout engine relies on.
package stock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
)

// DefaultLowStockThreshold is applied to records created without a threshold.
const DefaultLowStockThreshold = 10

// ErrInsufficientStock is returned by Ledger.ReserveAndDecrement when the
// available quantity is smaller than requested at the moment of the update.
var ErrInsufficientStock = errors.New("insufficient stock")

// Record is the stock state of one product.
type Record struct {
	ProductID         string
	StockQuantity     int
	ReservedQuantity  int
	LowStockThreshold int
	LastRestockedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         *time.Time
	DeletedAt         *time.Time
}

// Available returns physical stock minus committed stock.
func (r Record) Available() int {
	return r.StockQuantity - r.ReservedQuantity
}

// IsLowStock reports whether the physical count is at or below the threshold.
func (r Record) IsLowStock() bool {
	return r.StockQuantity <= r.LowStockThreshold
}

// Ledger reads and mutates stock records. Implementations must make
// ReserveAndDecrement atomic per product.
type Ledger interface {
	Get(ctx context.Context, productID string) (*Record, error)
	// CheckAvailability is a fast-path check only; the real guard is the
	// conditional decrement.
	CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error)
	// ReserveAndDecrement asserts available >= quantity and decrements the
	// stock quantity in one atomic step.
	ReserveAndDecrement(ctx context.Context, productID string, quantity int) (Record, error)
	// Restock increments the stock quantity and records the restock time.
	Restock(ctx context.Context, productID string, quantity int, at time.Time) (Record, error)
}

// InsufficientStockError names every product whose requested quantity
// exceeded the available stock.
type InsufficientStockError struct {
	ProductIDs []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products: %s", strings.Join(e.ProductIDs, ", "))
}

// Kind implements apperr.Kinder.
func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.KindInsufficientStock }

// ValidateQuantity rejects non-positive quantities.
func ValidateQuantity(productID string, quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity must be greater than 0 for product %s", productID)
	}
	return nil
}
