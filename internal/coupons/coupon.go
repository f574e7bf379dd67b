// Package coupons validates, prices and redeems discount codes.
package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

type Coupon struct {
	Code             string          `json:"code"`
	Kind             Kind            `json:"kind"`
	PercentOff       decimal.Decimal `json:"percent_off"`
	AmountOffCents   int64           `json:"amount_off_cents"`
	MinSubtotalCents int64           `json:"min_subtotal_cents"`
	ProductIDs       []string        `json:"product_ids,omitempty"`
	StartsAt         time.Time       `json:"starts_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	UsageLimit       int             `json:"usage_limit"`
	UsedCount        int             `json:"used_count"`
	PerUserLimit     int             `json:"per_user_limit"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Quote is the priced result of applying a coupon to a cart. The discount is
// locked into the order at creation.
type Quote struct {
	Code          string `json:"code"`
	Kind          Kind   `json:"kind"`
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
}

type Redemption struct {
	OrderID       string    `json:"order_id"`
	Code          string    `json:"code"`
	UserID        string    `json:"user_id"`
	DiscountCents int64     `json:"discount_cents"`
	RedeemedAt    time.Time `json:"redeemed_at"`
}

type Store interface {
	Create(ctx context.Context, c Coupon) error
	Get(ctx context.Context, code string) (Coupon, error)
	UserRedemptions(ctx context.Context, code, userID string) (int, error)
	// Redeem records the redemption and increments the usage count in one
	// step. It returns false, nil when the order already redeemed.
	Redeem(ctx context.Context, r Redemption) (bool, error)
}

func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
