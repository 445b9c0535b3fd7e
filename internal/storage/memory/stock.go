package memory

import (
	"context"
	"time"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// Ledger implements stock.Ledger.
type Ledger struct {
	s *Store
}

var _ stock.Ledger = (*Ledger)(nil)

// Stock returns the stock ledger view of the store.
func (s *Store) Stock() *Ledger {
	return &Ledger{s: s}
}

// Put inserts or replaces a stock record. A zero threshold is replaced by
// the default.
func (l *Ledger) Put(ctx context.Context, rec stock.Record) error {
	if rec.LowStockThreshold == 0 {
		rec.LowStockThreshold = stock.DefaultLowStockThreshold
	}
	return l.s.write(ctx, func(t *tables) error {
		t.stock[rec.ProductID] = rec
		return nil
	})
}

func lookupStock(t *tables, productID string) (stock.Record, error) {
	rec, ok := t.stock[productID]
	if !ok || rec.DeletedAt != nil {
		return stock.Record{}, apperr.NotFound("stock for product %s not found", productID)
	}
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (*stock.Record, error) {
	var out *stock.Record
	err := l.s.read(ctx, func(t *tables) error {
		rec, err := lookupStock(t, productID)
		if err != nil {
			return err
		}
		out = &rec
		return nil
	})
	return out, err
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	var ok bool
	err := l.s.read(ctx, func(t *tables) error {
		rec, err := lookupStock(t, productID)
		if err != nil {
			return err
		}
		ok = rec.Available() >= quantity
		return nil
	})
	return ok, err
}

func (l *Ledger) ReserveAndDecrement(ctx context.Context, productID string, quantity int) (stock.Record, error) {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return stock.Record{}, err
	}
	var out stock.Record
	err := l.s.write(ctx, func(t *tables) error {
		rec, err := lookupStock(t, productID)
		if err != nil {
			return err
		}
		if rec.Available() < quantity {
			return stock.ErrInsufficientStock
		}
		now := time.Now().UTC()
		rec.StockQuantity -= quantity
		rec.UpdatedAt = &now
		t.stock[productID] = rec
		out = rec
		return nil
	})
	return out, err
}

func (l *Ledger) Restock(ctx context.Context, productID string, quantity int, at time.Time) (stock.Record, error) {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return stock.Record{}, err
	}
	var out stock.Record
	err := l.s.write(ctx, func(t *tables) error {
		rec, err := lookupStock(t, productID)
		if err != nil {
			return err
		}
		at := at.UTC()
		rec.StockQuantity += quantity
		rec.LastRestockedAt = &at
		rec.UpdatedAt = &at
		t.stock[productID] = rec
		out = rec
		return nil
	})
	return out, err
}
