package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

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
	return a.s.RunInTx(ctx, func(ctx context.Context) error {
		q := a.s.conn(ctx)
		if addr.IsDefault {
			_, err := q.Exec(ctx, `
				UPDATE addresses SET is_default = FALSE, updated_at = now()
				WHERE user_id = $1 AND is_default AND id <> $2`, addr.UserID, addr.ID)
			if err != nil {
				return fmt.Errorf("clearing default address of %q: %w", addr.UserID, err)
			}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO addresses (id, user_id, full_name, line1, line2, city, state, postal_code,
				country, phone, is_default, created_at, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()), $13)
			ON CONFLICT (id) DO UPDATE SET
				full_name   = EXCLUDED.full_name,
				line1       = EXCLUDED.line1,
				line2       = EXCLUDED.line2,
				city        = EXCLUDED.city,
				state       = EXCLUDED.state,
				postal_code = EXCLUDED.postal_code,
				country     = EXCLUDED.country,
				phone       = EXCLUDED.phone,
				is_default  = EXCLUDED.is_default,
				deleted_at  = EXCLUDED.deleted_at,
				updated_at  = now()`,
			addr.ID, addr.UserID, addr.FullName, addr.Line1, addr.Line2, addr.City, addr.State,
			addr.PostalCode, addr.Country, addr.Phone, addr.IsDefault, nullTime(addr.CreatedAt), addr.DeletedAt)
		if err != nil {
			return fmt.Errorf("putting address %q: %w", addr.ID, err)
		}
		return nil
	})
}

// Get returns the address only if it belongs to userID.
func (a *Addresses) Get(ctx context.Context, id, userID string) (*address.Address, error) {
	var addr address.Address
	err := a.s.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, line1, line2, city, state, postal_code, country, phone,
			is_default, created_at, updated_at
		FROM addresses
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID).Scan(
		&addr.ID, &addr.UserID, &addr.FullName, &addr.Line1, &addr.Line2, &addr.City, &addr.State,
		&addr.PostalCode, &addr.Country, &addr.Phone, &addr.IsDefault, &addr.CreatedAt, &addr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("address %s not found", id)
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &addr, nil
}
