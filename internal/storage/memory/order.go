package memory

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/order"
)

// Orders implements order.Repository.
type Orders struct {
	s *Store
}

var _ order.Repository = (*Orders)(nil)

// Orders returns the order view of the store.
func (s *Store) Orders() *Orders {
	return &Orders{s: s}
}

func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	if len(o.Lines) == 0 {
		return errors.New("order has no lines")
	}
	return r.s.write(ctx, func(t *tables) error {
		if _, ok := t.numbers[o.Number]; ok {
			return order.ErrNumberTaken
		}
		if _, ok := t.orders[o.ID]; ok {
			return errors.Errorf("order %s already exists", o.ID)
		}
		t.orders[o.ID] = *o.Clone()
		t.numbers[o.Number] = o.ID
		return nil
	})
}

func lookupOrder(t *tables, id string) (*order.Order, error) {
	o, ok := t.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o.Clone(), nil
}

func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.read(ctx, func(t *tables) (err error) {
		out, err = lookupOrder(t, id)
		return err
	})
	return out, err
}

// GetForUpdate requires a transaction; the store lock serializes it.
func (r *Orders) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.write(ctx, func(t *tables) (err error) {
		out, err = lookupOrder(t, id)
		return err
	})
	return out, err
}

func (r *Orders) UpdateFulfillment(ctx context.Context, id string, f order.Fulfillment) error {
	return r.s.write(ctx, func(t *tables) error {
		o, err := lookupOrder(t, id)
		if err != nil {
			return err
		}
		o.Apply(f)
		t.orders[id] = *o
		return nil
	})
}

func (r *Orders) ListBetween(ctx context.Context, from, to time.Time) ([]order.Order, error) {
	var out []order.Order
	err := r.s.read(ctx, func(t *tables) error {
		for _, o := range t.orders {
			if o.DeletedAt != nil || o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
				continue
			}
			out = append(out, *o.Clone())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, err
}
