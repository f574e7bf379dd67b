package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/postgres/pgtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_Postgres(t *testing.T) {
	pool := pgtest.New(t)
	ledger := &inventory.Repo{DB: pool, TTL: time.Minute}
	engine := coupons.NewEngine(&coupons.Repo{DB: pool})
	store := &orders.Repo{DB: pool}
	gw := newGateway(step{err: timeout()}, step{err: timeout()})
	co := New(ledger, engine, store, gw, Options{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	ctx := context.Background()

	_, err := ledger.SetAvailable(ctx, "x", 3)
	require.NoError(t, err)
	_, err = engine.Create(ctx, coupons.Coupon{Code: "TEN", Kind: coupons.KindPercentage, PercentOff: decimal.NewFromInt(10), UsageLimit: 1})
	require.NoError(t, err)

	o, err := co.Checkout(ctx, Request{UserID: "u1", Cart: oneLine("x", 2, 2500), CouponCode: "TEN"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, int64(4500), o.TotalCents)

	attempts, err := co.Attempts(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)

	c, err := engine.Get(ctx, "TEN")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	rec, err := ledger.Record(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, 0, rec.Reserved)

	// the coupon is used up and one unit is left for two buyers
	_, err = co.Checkout(ctx, Request{UserID: "u2", Cart: oneLine("x", 1, 2500), CouponCode: "TEN"})
	assert.True(t, apperr.Is(err, apperr.ReasonUsageLimitExceeded))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = co.Checkout(ctx, Request{UserID: "u3", Cart: oneLine("x", 1, 2500)})
		}(i)
	}
	wg.Wait()
	var paid, short int
	for _, err := range errs {
		if err == nil {
			paid++
		} else if apperr.Is(err, apperr.ReasonInsufficientStock) {
			short++
		}
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, short)
}
