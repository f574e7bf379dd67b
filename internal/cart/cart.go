package cart

import (
	"strings"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
)

// Line is one cart entry with the unit price snapshotted when it was added.
type Line struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (l Line) TotalCents() int64 { return l.UnitPriceCents * int64(l.Quantity) }

type Cart struct {
	Lines []Line `json:"items"`
}

func (c Cart) SubtotalCents() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.TotalCents()
	}
	return total
}

// Validate rejects empty carts, blank products, non-positive quantities,
// negative prices and duplicated product lines.
func (c Cart) Validate() error {
	if len(c.Lines) == 0 {
		return apperr.Validation(apperr.ReasonInvalidCart, "cart is empty")
	}
	seen := make(map[string]struct{}, len(c.Lines))
	for i, l := range c.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return apperr.Validation(apperr.ReasonInvalidCart, "line %d: missing product_id", i)
		}
		if l.Quantity <= 0 {
			return apperr.Validation(apperr.ReasonInvalidCart, "line %d: invalid quantity %d", i, l.Quantity)
		}
		if l.UnitPriceCents < 0 {
			return apperr.Validation(apperr.ReasonInvalidCart, "line %d: negative unit price", i)
		}
		if _, dup := seen[l.ProductID]; dup {
			return apperr.Validation(apperr.ReasonInvalidCart, "product %s appears twice", l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}

// Contains reports whether any line is for one of productIDs.
func (c Cart) Contains(productIDs []string) bool {
	for _, l := range c.Lines {
		for _, id := range productIDs {
			if l.ProductID == id {
				return true
			}
		}
	}
	return false
}

// SubtotalFor sums the lines whose product is in productIDs.
func (c Cart) SubtotalFor(productIDs []string) int64 {
	var total int64
	for _, l := range c.Lines {
		for _, id := range productIDs {
			if l.ProductID == id {
				total += l.TotalCents()
				break
			}
		}
	}
	return total
}
