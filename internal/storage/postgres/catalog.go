package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/product"
)

// Catalog implements product.Catalog.
type Catalog struct {
	s *Store
}

var _ product.Catalog = (*Catalog)(nil)

// Catalog returns the product catalog view of the store.
func (s *Store) Catalog() *Catalog {
	return &Catalog{s: s}
}

const productColumns = `id, seller_id, name, category, price, created_at, updated_at, deleted_at`

func scanProduct(row pgx.Row) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Category, &p.Price, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return p, err
}

// Upsert inserts or replaces a product.
func (c *Catalog) Upsert(ctx context.Context, p product.Product) error {
	_, err := c.s.conn(ctx).Exec(ctx, `
		INSERT INTO products (id, seller_id, name, category, price, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		ON CONFLICT (id) DO UPDATE SET
			seller_id  = EXCLUDED.seller_id,
			name       = EXCLUDED.name,
			category   = EXCLUDED.category,
			price      = EXCLUDED.price,
			updated_at = now(),
			deleted_at = NULL`,
		p.ID, p.SellerID, p.Name, p.Category, p.Price, nullTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func (c *Catalog) GetByID(ctx context.Context, id string) (*product.Product, error) {
	p, err := scanProduct(c.s.conn(ctx).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("product %s not found", id)
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns the live products among ids; unknown ids are skipped.
func (c *Catalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := c.s.conn(ctx).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) AND deleted_at IS NULL ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}
	return products, nil
}
