package coupons

import (
	"context"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/shopspring/decimal"
)

type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Validate checks code against the cart and the user's past redemptions and
// returns the locked discount. It has no side effects.
func (e *Engine) Validate(ctx context.Context, code string, k cart.Cart, userID string) (Quote, error) {
	c, err := e.store.Get(ctx, NormalizeCode(code))
	if err != nil {
		return Quote{}, err
	}
	now := e.now()

	switch {
	case !c.Active:
		return Quote{}, apperr.Validation(apperr.ReasonNotApplicable, "coupon %s is disabled", c.Code)
	case !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt):
		return Quote{}, apperr.Validation(apperr.ReasonCouponExpired, "coupon %s expired at %s", c.Code, c.ExpiresAt.Format(time.RFC3339))
	case !c.StartsAt.IsZero() && now.Before(c.StartsAt):
		return Quote{}, apperr.Validation(apperr.ReasonNotApplicable, "coupon %s is not active yet", c.Code)
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return Quote{}, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s reached its usage limit", c.Code)
	}

	if c.PerUserLimit > 0 {
		n, err := e.store.UserRedemptions(ctx, c.Code, userID)
		if err != nil {
			return Quote{}, err
		}
		if n >= c.PerUserLimit {
			return Quote{}, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s already used %d times by this user", c.Code, n)
		}
	}

	subtotal := k.SubtotalCents()
	if subtotal < c.MinSubtotalCents {
		return Quote{}, apperr.Validation(apperr.ReasonNotApplicable, "coupon %s needs a subtotal of at least %d", c.Code, c.MinSubtotalCents)
	}
	if len(c.ProductIDs) > 0 && !k.Contains(c.ProductIDs) {
		return Quote{}, apperr.Validation(apperr.ReasonNotApplicable, "coupon %s does not apply to these products", c.Code)
	}

	d := Discount(c, k)
	return Quote{
		Code:          c.Code,
		Kind:          c.Kind,
		SubtotalCents: subtotal,
		DiscountCents: d,
		TotalCents:    subtotal - d,
	}, nil
}

// Redeem increments the coupon's usage for orderID. Calling it again for the
// same order is a no-op.
func (e *Engine) Redeem(ctx context.Context, orderID, userID string, q Quote) error {
	_, err := e.store.Redeem(ctx, Redemption{
		OrderID:       orderID,
		Code:          NormalizeCode(q.Code),
		UserID:        userID,
		DiscountCents: q.DiscountCents,
		RedeemedAt:    e.now().UTC(),
	})
	return err
}

func (e *Engine) Get(ctx context.Context, code string) (Coupon, error) {
	return e.store.Get(ctx, NormalizeCode(code))
}

// Create validates the rule and stores a new active coupon.
func (e *Engine) Create(ctx context.Context, c Coupon) (Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	if c.Code == "" {
		return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "code is required")
	}
	switch c.Kind {
	case KindPercentage:
		if c.PercentOff.LessThanOrEqual(decimal.Zero) || c.PercentOff.GreaterThan(hundred) {
			return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "percent_off must be in (0, 100]")
		}
	case KindFixed:
		if c.AmountOffCents <= 0 {
			return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "amount_off_cents must be positive")
		}
	default:
		return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "unknown coupon kind %q", c.Kind)
	}
	if c.UsageLimit < 0 || c.PerUserLimit < 0 || c.MinSubtotalCents < 0 {
		return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "limits must be >= 0")
	}
	if !c.ExpiresAt.IsZero() && !c.StartsAt.IsZero() && !c.ExpiresAt.After(c.StartsAt) {
		return Coupon{}, apperr.Validation(apperr.ReasonInvalidInput, "expires_at must be after starts_at")
	}
	c.UsedCount = 0
	c.Active = true
	c.CreatedAt = e.now().UTC()
	if err := e.store.Create(ctx, c); err != nil {
		return Coupon{}, err
	}
	return c, nil
}
