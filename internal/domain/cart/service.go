package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/product"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// Service implements the add/update/remove cart operations. Each operation is
// a read-modify-write of the caller's cart inside one transaction.
type Service struct {
	carts   Repository
	reader  Reader
	catalog product.Catalog
	tx      uow.UnitOfWork
	now     func() time.Time
}

// Reader serves cart reads that are not part of a read-modify-write, such as
// a read-through cache.
type Reader interface {
	Get(ctx context.Context, userID string) (*Cart, error)
}

// Option configures a Service.
type Option func(s *Service)

// WithReader routes Service.Get through r instead of the repository.
func WithReader(r Reader) Option {
	return func(s *Service) {
		s.reader = r
	}
}

// WithClock sets the time source for line timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a cart Service.
func NewService(carts Repository, catalog product.Catalog, tx uow.UnitOfWork, opts ...Option) *Service {
	s := &Service{
		carts:   carts,
		reader:  carts,
		catalog: catalog,
		tx:      tx,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the actor's cart.
func (s *Service) Get(ctx context.Context, actor auth.Principal) (*Cart, error) {
	c, err := s.reader.Get(ctx, actor.ID)
	if err != nil {
		return nil, apperr.Classify(err, "get cart")
	}
	return c, nil
}

// AddLine adds a product at its current catalog price.
func (s *Service) AddLine(ctx context.Context, actor auth.Principal, productID string, quantity int) (*Cart, error) {
	return s.mutate(ctx, actor, func(ctx context.Context, c *Cart) error {
		p, err := s.catalog.GetByID(ctx, productID)
		if err != nil {
			return err
		}
		return c.Add(p.ID, quantity, p.Price, s.now().UTC())
	})
}

// UpdateLine sets the quantity of a product already in the cart.
func (s *Service) UpdateLine(ctx context.Context, actor auth.Principal, productID string, quantity int) (*Cart, error) {
	return s.mutate(ctx, actor, func(_ context.Context, c *Cart) error {
		return c.Update(productID, quantity)
	})
}

// RemoveLine drops a product from the cart.
func (s *Service) RemoveLine(ctx context.Context, actor auth.Principal, productID string) (*Cart, error) {
	return s.mutate(ctx, actor, func(_ context.Context, c *Cart) error {
		return c.Remove(productID)
	})
}

func (s *Service) mutate(ctx context.Context, actor auth.Principal, fn func(context.Context, *Cart) error) (*Cart, error) {
	var out *Cart
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.carts.GetForUpdate(ctx, actor.ID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		now := s.now().UTC()
		c.UpdatedAt = &now
		if err := s.carts.Save(ctx, c); err != nil {
			return errors.Wrap(err, "save cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(err, "update cart")
	}
	return out, nil
}
