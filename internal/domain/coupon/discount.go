package coupon

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount returns the amount the coupon takes off the given subtotal,
// rounded to 2 places. It does not check eligibility; see Validate.
func Discount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	switch c.Type {
	case TypePercentage:
		return applyPercentage(c, subtotal)
	case TypeFlatAmount:
		return applyFlat(c, subtotal)
	default:
		return zero
	}
}

func applyPercentage(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	amount := subtotal.Mul(c.Value).Div(hundred)
	if c.MaxDiscountAmount != nil && amount.GreaterThan(*c.MaxDiscountAmount) {
		amount = *c.MaxDiscountAmount
	}
	return floorAtZero(amount).Round(2)
}

func applyFlat(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	amount := decimal.Min(c.Value, subtotal)
	return floorAtZero(amount).Round(2)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
