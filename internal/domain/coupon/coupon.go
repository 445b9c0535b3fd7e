package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the subtotal, optionally capped.
	TypePercentage Type = "percentage"
	// TypeFlatAmount takes a fixed amount, capped at the subtotal.
	TypeFlatAmount Type = "flat_amount"
)

// Valid reports whether t is a known coupon type.
func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeFlatAmount
}

// ErrUsageLimitReached is returned by Repository.IncrementUsage when the
// coupon was fully redeemed by a concurrent checkout.
var ErrUsageLimitReached = errors.New("coupon usage limit reached")

// Coupon is a redeemable discount code.
type Coupon struct {
	ID                string
	Code              string
	Type              Type
	Value             decimal.Decimal
	MinPurchaseAmount *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	ValidFrom         time.Time
	ValidTo           time.Time
	// UsageLimit of zero means unlimited.
	UsageLimit int
	UsedCount  int
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	DeletedAt  *time.Time
}

// Unlimited reports whether the coupon has no usage limit.
func (c *Coupon) Unlimited() bool {
	return c.UsageLimit == 0
}

// Remaining returns how many redemptions are left, or -1 when unlimited.
func (c *Coupon) Remaining() int {
	if c.Unlimited() {
		return -1
	}
	return max(c.UsageLimit-c.UsedCount, 0)
}

// CouponInvalidError reports why a supplied coupon cannot be applied.
type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %q is invalid: %s", e.Code, e.Reason)
}

// Kind implements apperr.Kinder.
func (e *CouponInvalidError) Kind() apperr.Kind { return apperr.KindCouponInvalid }

// Repository provides coupon lookup and redemption accounting.
type Repository interface {
	// FindByCode returns the coupon with exactly this code (case-sensitive).
	// Soft-deleted coupons are not visible. Missing coupons yield an
	// apperr not_found error.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUsage atomically increments the used count when the usage
	// limit allows it and returns ErrUsageLimitReached otherwise.
	IncrementUsage(ctx context.Context, id string) error
}
