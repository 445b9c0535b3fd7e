package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-marketplace/internal/domain/cart"
)

// Carts implements cart.Repository.
type Carts struct {
	s *Store
}

var _ cart.Repository = (*Carts)(nil)

// Carts returns the cart view of the store.
func (s *Store) Carts() *Carts {
	return &Carts{s: s}
}

func (c *Carts) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	var out *cart.Cart
	err := c.s.read(ctx, func(t *tables) error {
		if stored, ok := t.carts[userID]; ok && stored.DeletedAt == nil {
			out = stored.Clone()
			return nil
		}
		out = &cart.Cart{UserID: userID}
		return nil
	})
	return out, err
}

// GetForUpdate is Get: a writable transaction already holds the store lock.
func (c *Carts) GetForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	return c.Get(ctx, userID)
}

func (c *Carts) Save(ctx context.Context, in *cart.Cart) error {
	stored := *in.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	return c.s.write(ctx, func(t *tables) error {
		t.carts[stored.UserID] = stored
		in.ID, in.CreatedAt = stored.ID, stored.CreatedAt
		return nil
	})
}

// Clear empties the cart; the cart itself is kept.
func (c *Carts) Clear(ctx context.Context, userID string) error {
	return c.s.write(ctx, func(t *tables) error {
		stored, ok := t.carts[userID]
		if !ok || stored.DeletedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		stored.Lines = nil
		stored.UpdatedAt = &now
		t.carts[userID] = stored
		return nil
	})
}
