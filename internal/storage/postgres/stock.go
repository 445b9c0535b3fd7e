package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/stock"
)

// Ledger implements stock.Ledger. Decrements are single conditional
// UPDATEs, so concurrent checkouts can never drive stock below zero.
type Ledger struct {
	s *Store
}

var _ stock.Ledger = (*Ledger)(nil)

// Stock returns the stock ledger view of the store.
func (s *Store) Stock() *Ledger {
	return &Ledger{s: s}
}

const stockColumns = `product_id, stock_quantity, reserved_quantity, low_stock_threshold,
	last_restocked_at, created_at, updated_at, deleted_at`

func scanStock(row pgx.Row) (stock.Record, error) {
	var r stock.Record
	err := row.Scan(&r.ProductID, &r.StockQuantity, &r.ReservedQuantity, &r.LowStockThreshold,
		&r.LastRestockedAt, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	return r, err
}

// Put inserts or replaces a stock record. A zero threshold is replaced by
// the default.
func (l *Ledger) Put(ctx context.Context, rec stock.Record) error {
	if rec.LowStockThreshold == 0 {
		rec.LowStockThreshold = stock.DefaultLowStockThreshold
	}
	_, err := l.s.conn(ctx).Exec(ctx, `
		INSERT INTO stock_records (product_id, stock_quantity, reserved_quantity, low_stock_threshold, last_restocked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id) DO UPDATE SET
			stock_quantity      = EXCLUDED.stock_quantity,
			reserved_quantity   = EXCLUDED.reserved_quantity,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			last_restocked_at   = EXCLUDED.last_restocked_at,
			updated_at          = now(),
			deleted_at          = NULL`,
		rec.ProductID, rec.StockQuantity, rec.ReservedQuantity, rec.LowStockThreshold, rec.LastRestockedAt)
	if err != nil {
		return fmt.Errorf("putting stock for %q: %w", rec.ProductID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (*stock.Record, error) {
	rec, err := scanStock(l.s.conn(ctx).QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stock_records WHERE product_id = $1 AND deleted_at IS NULL`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("stock for product %s not found", productID)
		}
		return nil, fmt.Errorf("getting stock for %q: %w", productID, err)
	}
	return &rec, nil
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	rec, err := l.Get(ctx, productID)
	if err != nil {
		return false, err
	}
	return rec.Available() >= quantity, nil
}

func (l *Ledger) ReserveAndDecrement(ctx context.Context, productID string, quantity int) (stock.Record, error) {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return stock.Record{}, err
	}
	rec, err := scanStock(l.s.conn(ctx).QueryRow(ctx, `
		UPDATE stock_records
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE product_id = $1
		  AND deleted_at IS NULL
		  AND stock_quantity - reserved_quantity >= $2
		RETURNING `+stockColumns, productID, quantity))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return stock.Record{}, fmt.Errorf("decrementing stock for %q: %w", productID, err)
	}
	// No row matched: either the record is missing or the guard failed.
	if _, err := l.Get(ctx, productID); err != nil {
		return stock.Record{}, err
	}
	return stock.Record{}, stock.ErrInsufficientStock
}

func (l *Ledger) Restock(ctx context.Context, productID string, quantity int, at time.Time) (stock.Record, error) {
	if err := stock.ValidateQuantity(productID, quantity); err != nil {
		return stock.Record{}, err
	}
	rec, err := scanStock(l.s.conn(ctx).QueryRow(ctx, `
		UPDATE stock_records
		SET stock_quantity = stock_quantity + $2, last_restocked_at = $3, updated_at = $3
		WHERE product_id = $1 AND deleted_at IS NULL
		RETURNING `+stockColumns, productID, quantity, at.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Record{}, apperr.NotFound("stock for product %s not found", productID)
		}
		return stock.Record{}, fmt.Errorf("restocking %q: %w", productID, err)
	}
	return rec, nil
}
