// Package pricing computes line, subtotal, tax and total amounts for work orders.
// Every function is pure; callers validate inputs beforehand.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

var hundred = decimal.NewFromInt(100)

// ErrNegativeLineTotal indicates a discount larger than the product and labor amount.
var ErrNegativeLineTotal = errors.New("pricing: discount exceeds line amount")

// Breakdown is the priced summary of a line set at a given tax rate.
type Breakdown struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	TaxRate   decimal.Decimal
}

// UnitPrice applies the profit margin to the product's base sale price.
func UnitPrice(product workshop.Product) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(product.ProfitMargin.Div(hundred))
	return product.SalePrice.Mul(factor)
}

// Price freezes the product's current unit price into the line.
func Price(product workshop.Product, line workshop.LineItem) workshop.LineItem {
	line.SalePrice = UnitPrice(product)
	return line
}

// LineTotal returns unit price * quantity + labor - discount. The result is
// not clamped, a discount above the line amount yields a negative total.
func LineTotal(line workshop.LineItem) decimal.Decimal {
	gross := line.SalePrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
	return gross.Add(line.LaborPrice).Sub(line.Discount)
}

// Subtotal sums the line totals.
func Subtotal(lines []workshop.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(LineTotal(line))
	}
	return sum
}

// TaxAmount computes subtotal * rate / 100 rounded half away from zero to whole units.
func TaxAmount(subtotal, ratePercent decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(ratePercent).Div(hundred).Round(0)
}

// Total adds the tax amount to the subtotal.
func Total(subtotal, taxAmount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(taxAmount)
}

// Quote prices a full line set.
func Quote(lines []workshop.LineItem, ratePercent decimal.Decimal) Breakdown {
	subtotal := Subtotal(lines)
	tax := TaxAmount(subtotal, ratePercent)
	return Breakdown{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     Total(subtotal, tax),
		TaxRate:   ratePercent,
	}
}

// ValidateLine rejects lines whose discount would make the total negative.
func ValidateLine(line workshop.LineItem) error {
	if LineTotal(line).IsNegative() {
		return ErrNegativeLineTotal
	}
	return nil
}

// Balanced reports whether total == subtotal + tax holds.
func (b Breakdown) Balanced() bool {
	return b.Total.Equal(b.Subtotal.Add(b.TaxAmount))
}
