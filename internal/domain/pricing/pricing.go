// Package pricing derives order totals from captured cart prices.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Places is the currency precision applied when a money field is finalized.
const Places = 2

var zero = decimal.Zero

// Line is one priced cart line.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Gross returns unitPrice × quantity without rounding.
func (l Line) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Breakdown holds the finalized financial fields of an order.
type Breakdown struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Calculator applies a fixed tax rate to discounted subtotals.
type Calculator struct {
	taxRate decimal.Decimal
}

// NewCalculator returns a Calculator for the given tax rate (0.05 = 5%).
func NewCalculator(taxRate decimal.Decimal) *Calculator {
	return &Calculator{taxRate: taxRate}
}

// TaxRate returns the configured tax rate.
func (c *Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Subtotal returns Σ(unitPrice × quantity) rounded to currency precision.
func Subtotal(lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.Gross())
	}
	return Round(sum)
}

// LineTotal returns unitPrice × quantity − discount rounded to currency
// precision, floored at zero.
func LineTotal(l Line, discount decimal.Decimal) decimal.Decimal {
	return Round(floorAtZero(l.Gross().Sub(discount)))
}

// Calculate computes subtotal, discount, tax and total. The discount is
// clamped to [0, subtotal]; each field is rounded once, when finalized.
func (c *Calculator) Calculate(lines []Line, discount decimal.Decimal) Breakdown {
	subtotal := Subtotal(lines)

	discount = Round(floorAtZero(discount))
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	taxable := subtotal.Sub(discount)
	tax := Round(taxable.Mul(c.taxRate))
	total := floorAtZero(taxable.Add(tax))

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    total,
	}
}

// Round rounds half-up to currency precision. decimal.Round rounds half away
// from zero, which equals half-up for the non-negative amounts used here.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
