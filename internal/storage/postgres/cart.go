package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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

// Get returns the cart of userID, or an empty unsaved cart if the user has
// none yet.
func (c *Carts) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	return c.load(ctx, userID, `
		SELECT id, created_at, updated_at FROM carts
		WHERE user_id = $1 AND deleted_at IS NULL`)
}

// GetForUpdate makes sure the cart row exists and locks it with FOR UPDATE.
// It must run inside RunInTx; the lock is held until the transaction ends.
func (c *Carts) GetForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); !ok {
		return nil, errors.New("cart lock requires a transaction")
	}
	_, err := c.s.conn(ctx).Exec(ctx, `
		INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, uuid.NewString(), userID)
	if err != nil {
		return nil, fmt.Errorf("creating cart of %q: %w", userID, err)
	}
	return c.load(ctx, userID, `
		SELECT id, created_at, updated_at FROM carts
		WHERE user_id = $1 AND deleted_at IS NULL
		FOR UPDATE`)
}

func (c *Carts) load(ctx context.Context, userID, query string) (*cart.Cart, error) {
	q := c.s.conn(ctx)
	out := &cart.Cart{UserID: userID}
	err := q.QueryRow(ctx, query, userID).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return nil, fmt.Errorf("getting cart of %q: %w", userID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit_price, added_at
		FROM cart_lines
		WHERE cart_id = $1 AND deleted_at IS NULL
		ORDER BY position`, out.ID)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines: %w", err)
	}
	out.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice, &l.AddedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart lines: %w", err)
	}
	return out, nil
}

// Save writes the cart and replaces all of its live lines.
func (c *Carts) Save(ctx context.Context, in *cart.Cart) error {
	return c.s.RunInTx(ctx, func(ctx context.Context) error {
		q := c.s.conn(ctx)
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		err := q.QueryRow(ctx, `
			INSERT INTO carts (id, user_id, created_at, updated_at)
			VALUES ($1, $2, COALESCE($3, now()), $4)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, deleted_at = NULL
			RETURNING id, created_at`,
			id, in.UserID, nullTime(in.CreatedAt), in.UpdatedAt).Scan(&in.ID, &in.CreatedAt)
		if err != nil {
			return fmt.Errorf("upserting cart of %q: %w", in.UserID, err)
		}

		if _, err := q.Exec(ctx,
			`DELETE FROM cart_lines WHERE cart_id = $1 AND deleted_at IS NULL`, in.ID); err != nil {
			return fmt.Errorf("deleting cart lines: %w", err)
		}
		if len(in.Lines) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, l := range in.Lines {
			batch.Queue(`
				INSERT INTO cart_lines (cart_id, product_id, position, quantity, unit_price, added_at)
				VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`,
				in.ID, l.ProductID, i, l.Quantity, l.UnitPrice, nullTime(l.AddedAt))
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting cart lines: %w", err)
		}
		return nil
	})
}

// Clear empties the cart by soft-deleting its lines; the cart itself is kept.
func (c *Carts) Clear(ctx context.Context, userID string) error {
	return c.s.RunInTx(ctx, func(ctx context.Context) error {
		q := c.s.conn(ctx)
		now := time.Now().UTC()
		var id string
		err := q.QueryRow(ctx, `
			UPDATE carts SET updated_at = $2
			WHERE user_id = $1 AND deleted_at IS NULL
			RETURNING id`, userID, now).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("touching cart of %q: %w", userID, err)
		}
		if _, err := q.Exec(ctx, `
			UPDATE cart_lines SET deleted_at = $2
			WHERE cart_id = $1 AND deleted_at IS NULL`, id, now); err != nil {
			return fmt.Errorf("clearing cart of %q: %w", userID, err)
		}
		return nil
	})
}
