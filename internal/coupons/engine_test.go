package coupons

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, cs ...Coupon) (*Engine, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	e := NewEngine(repo).WithClock(func() time.Time { return now })
	for _, c := range cs {
		_, err := e.Create(context.Background(), c)
		require.NoError(t, err)
	}
	return e, repo
}

func fiftyDollarCart() cart.Cart {
	return cart.Cart{Lines: []cart.Line{{ProductID: "x", Quantity: 2, UnitPriceCents: 2500}}}
}

func TestValidate_TenPercentOffFiftyDollars(t *testing.T) {
	e, _ := newEngine(t, Coupon{Code: "ten", Kind: KindPercentage, PercentOff: decimal.NewFromInt(10)})

	q, err := e.Validate(context.Background(), " TEN ", fiftyDollarCart(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "TEN", q.Code)
	assert.Equal(t, int64(5000), q.SubtotalCents)
	assert.Equal(t, int64(500), q.DiscountCents)
	assert.Equal(t, int64(4500), q.TotalCents)
}

func TestDiscount(t *testing.T) {
	k := cart.Cart{Lines: []cart.Line{
		{ProductID: "a", Quantity: 1, UnitPriceCents: 999},
		{ProductID: "b", Quantity: 1, UnitPriceCents: 1000},
	}}
	tests := []struct {
		name string
		c    Coupon
		want int64
	}{
		{"percentage rounds down", Coupon{Kind: KindPercentage, PercentOff: decimal.NewFromInt(10), ProductIDs: []string{"a"}}, 99},
		{"fractional percentage", Coupon{Kind: KindPercentage, PercentOff: decimal.RequireFromString("12.5")}, 249},
		{"fixed", Coupon{Kind: KindFixed, AmountOffCents: 300}, 300},
		{"fixed clamped", Coupon{Kind: KindFixed, AmountOffCents: 5000}, 1999},
		{"fixed clamped to eligible lines", Coupon{Kind: KindFixed, AmountOffCents: 5000, ProductIDs: []string{"b"}}, 1000},
		{"no eligible lines", Coupon{Kind: KindFixed, AmountOffCents: 100, ProductIDs: []string{"z"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Discount(tt.c, k))
		})
	}
}

func TestValidate_Failures(t *testing.T) {
	e, repo := newEngine(t,
		Coupon{Code: "OLD", Kind: KindFixed, AmountOffCents: 100, ExpiresAt: now.Add(-time.Hour)},
		Coupon{Code: "SOON", Kind: KindFixed, AmountOffCents: 100, StartsAt: now.Add(time.Hour)},
		Coupon{Code: "ONCE", Kind: KindFixed, AmountOffCents: 100, UsageLimit: 1},
		Coupon{Code: "BIG", Kind: KindFixed, AmountOffCents: 100, MinSubtotalCents: 10000},
		Coupon{Code: "SHOES", Kind: KindPercentage, PercentOff: decimal.NewFromInt(5), ProductIDs: []string{"shoe"}},
		Coupon{Code: "MINE", Kind: KindFixed, AmountOffCents: 100, PerUserLimit: 1},
	)
	ctx := context.Background()
	_, err := repo.Redeem(ctx, Redemption{OrderID: "o1", Code: "ONCE", UserID: "u9"})
	require.NoError(t, err)
	_, err = repo.Redeem(ctx, Redemption{OrderID: "o2", Code: "MINE", UserID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		code string
		want apperr.Reason
	}{
		{"missing", apperr.ReasonCouponNotFound},
		{"OLD", apperr.ReasonCouponExpired},
		{"SOON", apperr.ReasonNotApplicable},
		{"ONCE", apperr.ReasonUsageLimitExceeded},
		{"BIG", apperr.ReasonNotApplicable},
		{"SHOES", apperr.ReasonNotApplicable},
		{"MINE", apperr.ReasonUsageLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := e.Validate(ctx, tt.code, fiftyDollarCart(), "u1")
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.ReasonOf(err))
		})
	}
}

func TestRedeem_IdempotentPerOrder(t *testing.T) {
	e, _ := newEngine(t, Coupon{Code: "TEN", Kind: KindPercentage, PercentOff: decimal.NewFromInt(10)})
	ctx := context.Background()
	q, err := e.Validate(ctx, "TEN", fiftyDollarCart(), "u1")
	require.NoError(t, err)

	require.NoError(t, e.Redeem(ctx, "order-1", "u1", q))
	require.NoError(t, e.Redeem(ctx, "order-1", "u1", q))

	c, err := e.Get(ctx, "ten")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
}

func TestRedeem_ConcurrentNeverExceedsLimit(t *testing.T) {
	e, _ := newEngine(t, Coupon{Code: "FEW", Kind: KindFixed, AmountOffCents: 100, UsageLimit: 5})
	ctx := context.Background()
	q := Quote{Code: "FEW", DiscountCents: 100}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := e.Redeem(ctx, fmt.Sprintf("order-%d", i), fmt.Sprintf("user-%d", i), q)
			if err != nil {
				assert.True(t, apperr.Is(err, apperr.ReasonUsageLimitExceeded))
			}
		}(i)
	}
	wg.Wait()

	c, err := e.Get(ctx, "FEW")
	require.NoError(t, err)
	assert.Equal(t, 5, c.UsedCount)
}

func TestCreate_Rules(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	bad := []Coupon{
		{Code: "", Kind: KindFixed, AmountOffCents: 1},
		{Code: "P0", Kind: KindPercentage, PercentOff: decimal.Zero},
		{Code: "P101", Kind: KindPercentage, PercentOff: decimal.NewFromInt(101)},
		{Code: "F0", Kind: KindFixed},
		{Code: "K", Kind: "free_shipping"},
		{Code: "W", Kind: KindFixed, AmountOffCents: 1, StartsAt: now, ExpiresAt: now},
	}
	for _, c := range bad {
		_, err := e.Create(ctx, c)
		assert.True(t, apperr.Is(err, apperr.ReasonInvalidInput), c.Code)
	}

	_, err := e.Create(ctx, Coupon{Code: "dup", Kind: KindFixed, AmountOffCents: 1})
	require.NoError(t, err)
	_, err = e.Create(ctx, Coupon{Code: "DUP", Kind: KindFixed, AmountOffCents: 1})
	assert.True(t, apperr.Is(err, apperr.ReasonDuplicate))
}
