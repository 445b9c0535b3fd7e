package memory

import (
	"context"

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

// Put inserts or replaces a product.
func (c *Catalog) Put(ctx context.Context, p product.Product) error {
	return c.s.write(ctx, func(t *tables) error {
		t.products[p.ID] = p
		return nil
	})
}

func (c *Catalog) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var out *product.Product
	err := c.s.read(ctx, func(t *tables) error {
		p, ok := t.products[id]
		if !ok || p.DeletedAt != nil {
			return apperr.NotFound("product %s not found", id)
		}
		out = &p
		return nil
	})
	return out, err
}

func (c *Catalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	err := c.s.read(ctx, func(t *tables) error {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if p, ok := t.products[id]; ok && p.DeletedAt == nil {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
