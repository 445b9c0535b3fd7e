package memory

import (
	"context"
	"time"

	"github.com/xenking/kart-marketplace/internal/domain/address"
	"github.com/xenking/kart-marketplace/internal/domain/apperr"
)

// Addresses implements address.Repository.
type Addresses struct {
	s *Store
}

var _ address.Repository = (*Addresses)(nil)

// Addresses returns the address view of the store.
func (s *Store) Addresses() *Addresses {
	return &Addresses{s: s}
}

// Put inserts or replaces an address. Marking it default clears the
// previous default of the same user.
func (a *Addresses) Put(ctx context.Context, addr address.Address) error {
	return a.s.write(ctx, func(t *tables) error {
		if addr.IsDefault {
			now := time.Now().UTC()
			for id, other := range t.addresses {
				if other.UserID == addr.UserID && other.IsDefault && id != addr.ID {
					other.IsDefault = false
					other.UpdatedAt = &now
					t.addresses[id] = other
				}
			}
		}
		t.addresses[addr.ID] = addr
		return nil
	})
}

func (a *Addresses) Get(ctx context.Context, id, userID string) (*address.Address, error) {
	var out *address.Address
	err := a.s.read(ctx, func(t *tables) error {
		addr, ok := t.addresses[id]
		if !ok || addr.DeletedAt != nil || addr.UserID != userID {
			return apperr.NotFound("address %s not found", id)
		}
		out = &addr
		return nil
	})
	return out, err
}
