package coupons

import (
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount prices c against the eligible part of the cart. Percentages round
// down to the cent; fixed amounts are clamped to the eligible subtotal.
func Discount(c Coupon, k cart.Cart) int64 {
	base := k.SubtotalCents()
	if len(c.ProductIDs) > 0 {
		base = k.SubtotalFor(c.ProductIDs)
	}
	if base <= 0 {
		return 0
	}

	var d int64
	switch c.Kind {
	case KindPercentage:
		d = decimal.NewFromInt(base).Mul(c.PercentOff).Div(hundred).Floor().IntPart()
	case KindFixed:
		d = c.AmountOffCents
	}
	if d < 0 {
		return 0
	}
	if d > base {
		return base
	}
	return d
}
