package memory

import (
	"context"
	"time"

	"github.com/go-faster/errors"

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

// Put inserts or replaces a coupon. Codes are unique.
func (c *Coupons) Put(ctx context.Context, cp coupon.Coupon) error {
	return c.s.write(ctx, func(t *tables) error {
		if id, ok := t.couponCodes[cp.Code]; ok && id != cp.ID {
			return errors.Errorf("coupon code %q already exists", cp.Code)
		}
		if old, ok := t.coupons[cp.ID]; ok && old.Code != cp.Code {
			delete(t.couponCodes, old.Code)
		}
		t.coupons[cp.ID] = cp
		t.couponCodes[cp.Code] = cp.ID
		return nil
	})
}

// FindByCode matches the code exactly; lookup is case-sensitive.
func (c *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out *coupon.Coupon
	err := c.s.read(ctx, func(t *tables) error {
		cp, ok := t.coupons[t.couponCodes[code]]
		if !ok || cp.DeletedAt != nil {
			return apperr.NotFound("coupon %q not found", code)
		}
		out = &cp
		return nil
	})
	return out, err
}

func (c *Coupons) IncrementUsage(ctx context.Context, id string) error {
	return c.s.write(ctx, func(t *tables) error {
		cp, ok := t.coupons[id]
		if !ok || cp.DeletedAt != nil {
			return apperr.NotFound("coupon %s not found", id)
		}
		if !cp.Unlimited() && cp.UsedCount >= cp.UsageLimit {
			return coupon.ErrUsageLimitReached
		}
		now := time.Now().UTC()
		cp.UsedCount++
		cp.UpdatedAt = &now
		t.coupons[id] = cp
		return nil
	})
}
