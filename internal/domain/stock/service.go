package stock

import (
	"context"
	"time"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// Service exposes ledger operations to callers outside checkout.
type Service struct {
	ledger Ledger
	tx     uow.UnitOfWork
	now    func() time.Time
}

// NewService creates a stock Service. A nil now defaults to time.Now.
func NewService(ledger Ledger, tx uow.UnitOfWork, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{ledger: ledger, tx: tx, now: now}
}

// Restock adds quantity units of productID. Only admins may restock.
func (s *Service) Restock(ctx context.Context, actor auth.Principal, productID string, quantity int) (*Record, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Authorization("role %q may not restock products", actor.Role)
	}
	if err := ValidateQuantity(productID, quantity); err != nil {
		return nil, err
	}

	var out Record
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.ledger.Restock(ctx, productID, quantity, s.now().UTC())
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, apperr.Classify(err, "restock")
	}
	return &out, nil
}
