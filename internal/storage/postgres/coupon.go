package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/coupon"
)

// Coupons implements coupon.Repository.
type Coupons struct {
	s *Store
}

var _ coupon.Repository = (*Coupons)(nil)

// Coupons returns the coupon view of the store.
func (s *Store) Coupons() *Coupons {
	return &Coupons{s: s}
}

// Put inserts or replaces a coupon keyed by id. Codes stay unique.
func (c *Coupons) Put(ctx context.Context, cp coupon.Coupon) error {
	_, err := c.s.conn(ctx).Exec(ctx, `
		INSERT INTO coupons (id, code, type, value, min_purchase_amount, max_discount_amount,
			valid_from, valid_to, usage_limit, used_count, is_active, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			code                = EXCLUDED.code,
			type                = EXCLUDED.type,
			value               = EXCLUDED.value,
			min_purchase_amount = EXCLUDED.min_purchase_amount,
			max_discount_amount = EXCLUDED.max_discount_amount,
			valid_from          = EXCLUDED.valid_from,
			valid_to            = EXCLUDED.valid_to,
			usage_limit         = EXCLUDED.usage_limit,
			is_active           = EXCLUDED.is_active,
			deleted_at          = EXCLUDED.deleted_at,
			updated_at          = now()`,
		cp.ID, cp.Code, string(cp.Type), cp.Value, cp.MinPurchaseAmount, cp.MaxDiscountAmount,
		cp.ValidFrom, cp.ValidTo, cp.UsageLimit, cp.UsedCount, cp.IsActive, cp.DeletedAt)
	if err != nil {
		if uniqueViolation(err, "coupons_code_key") {
			return fmt.Errorf("coupon code %q already exists: %w", cp.Code, err)
		}
		return fmt.Errorf("putting coupon %q: %w", cp.Code, err)
	}
	return nil
}

// FindByCode looks up a live coupon by its exact code.
func (c *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var (
		cp  coupon.Coupon
		typ string
	)
	err := c.s.conn(ctx).QueryRow(ctx, `
		SELECT id, code, type, value, min_purchase_amount, max_discount_amount,
			valid_from, valid_to, usage_limit, used_count, is_active, created_at, updated_at
		FROM coupons
		WHERE code = $1 AND deleted_at IS NULL`, code).Scan(
		&cp.ID, &cp.Code, &typ, &cp.Value, &cp.MinPurchaseAmount, &cp.MaxDiscountAmount,
		&cp.ValidFrom, &cp.ValidTo, &cp.UsageLimit, &cp.UsedCount, &cp.IsActive, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon %q not found", code)
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	cp.Type = coupon.Type(typ)
	return &cp, nil
}

// IncrementUsage consumes one use of the coupon, failing with
// coupon.ErrUsageLimitReached when the limit is exhausted.
func (c *Coupons) IncrementUsage(ctx context.Context, id string) error {
	tag, err := c.s.conn(ctx).Exec(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND (usage_limit = 0 OR used_count < usage_limit)`, id)
	if err != nil {
		return fmt.Errorf("incrementing coupon %q usage: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := c.s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %q: %w", id, err)
	}
	if !exists {
		return apperr.NotFound("coupon %s not found", id)
	}
	return coupon.ErrUsageLimitReached
}
