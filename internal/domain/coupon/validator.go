package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rejection reasons reported by Validate.
const (
	ReasonInactive      = "coupon is not active"
	ReasonNotYetValid   = "coupon is not valid yet"
	ReasonExpired       = "coupon has expired"
	ReasonUsageExceeded = "coupon usage limit reached"
	ReasonUnknownType   = "coupon type is not supported"
)

// Result is the outcome of validating a coupon against an order subtotal.
type Result struct {
	Valid    bool
	Discount decimal.Decimal
	Reason   string
}

func reject(reason string) Result {
	return Result{Discount: zero, Reason: reason}
}

// Validate evaluates the coupon rules in order (active, validity window,
// usage limit, minimum purchase) and reports the first failure. It never
// mutates the coupon; redemption happens in the checkout transaction.
func Validate(c *Coupon, subtotal decimal.Decimal, now time.Time) Result {
	if !c.IsActive {
		return reject(ReasonInactive)
	}

	if now.Before(c.ValidFrom) {
		return reject(ReasonNotYetValid)
	}
	if now.After(c.ValidTo) {
		return reject(ReasonExpired)
	}

	if !c.Unlimited() && c.UsedCount >= c.UsageLimit {
		return reject(ReasonUsageExceeded)
	}

	if c.MinPurchaseAmount != nil && subtotal.LessThan(*c.MinPurchaseAmount) {
		return reject(fmt.Sprintf("order subtotal %s is below the minimum purchase of %s",
			subtotal.StringFixed(2), c.MinPurchaseAmount.StringFixed(2)))
	}

	if !c.Type.Valid() {
		return reject(ReasonUnknownType)
	}

	return Result{
		Valid:    true,
		Discount: Discount(c, subtotal),
	}
}
