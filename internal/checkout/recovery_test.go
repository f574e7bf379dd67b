package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_ReleasesOrphanReservations(t *testing.T) {
	f := newFixture(t, newGateway())
	f.stock(t, "x", 4)
	ctx := context.Background()
	_, err := f.ledger.Reserve(ctx, "x", 3)
	require.NoError(t, err)

	rep, err := f.co.Recover(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Empty())

	f.clock.Advance(ttl + time.Minute)
	rep, err = f.co.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OrphansReleased)
	assert.Equal(t, 4, f.record(t, "x").Available)
}

func TestRecover_CancelsAbandonedOrders(t *testing.T) {
	f := newFixture(t, newGateway())
	f.stock(t, "x", 4)
	ctx := context.Background()
	tok, err := f.ledger.Reserve(ctx, "x", 2)
	require.NoError(t, err)
	o, err := f.store.Create(ctx, orders.NewOrder{UserID: "u1", Cart: oneLine("x", 2, 100), Tokens: []inventory.Token{tok}})
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	rep, err := f.co.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Cancelled)

	got, _ := f.co.Order(ctx, o.ID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, 4, f.record(t, "x").Available)
	assert.Equal(t, []string{orders.EventOrderCancelled}, f.events.Types())
}

func TestRecover_SettlesCaptureLostInCrash(t *testing.T) {
	f := newFixture(t, newGateway(step{err: timeout(), charge: true}))
	f.stock(t, "x", 5)
	f.coupon(t, coupons.Coupon{Code: "TEN", Kind: coupons.KindPercentage, PercentOff: decimal.NewFromInt(10)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onCapture = func(int, payment.CaptureRequest) { cancel() }

	o, err := f.co.Checkout(ctx, Request{UserID: "u1", Cart: oneLine("x", 2, 1000), CouponCode: "TEN"})
	require.Error(t, err)
	assert.Equal(t, orders.StatusPaymentPending, o.Status)
	attempts, _ := f.co.Attempts(context.Background(), o.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, orders.OutcomePending, attempts[0].Outcome)

	f.clock.Advance(6 * time.Minute)
	rep, err := f.co.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Paid)

	got, _ := f.co.Order(context.Background(), o.ID)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, "pi_1", got.ProviderRef)
	assert.Equal(t, 1, f.usedCount(t, "TEN"))
	rec := f.record(t, "x")
	assert.Equal(t, 3, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
	assert.Equal(t, 1, f.gw.Calls())
}

func TestRecover_UnknownOutcomeKeepsOrderPending(t *testing.T) {
	f := newFixture(t, newGateway(step{err: timeout()}))
	f.stock(t, "x", 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onCapture = func(int, payment.CaptureRequest) { cancel() }

	o, err := f.co.Checkout(ctx, Request{UserID: "u1", Cart: oneLine("x", 1, 1000)})
	require.Error(t, err)

	f.gw.lookupErr = apperr.Provider(apperr.ReasonProviderUnavailable, nil, "down")
	f.clock.Advance(6 * time.Minute)
	rep, err := f.co.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pending)

	got, _ := f.co.Order(context.Background(), o.ID)
	assert.Equal(t, orders.StatusPaymentPending, got.Status)
	assert.Equal(t, 1, f.record(t, "x").Reserved)

	f.gw.lookupErr = nil
	rep, err = f.co.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, f.record(t, "x").Reserved)
}

func TestCheckout_UnresolvedTimeoutStopsRetrying(t *testing.T) {
	f := newFixture(t, newGateway(step{err: timeout(), charge: true}, step{err: timeout()}, step{err: timeout()}))
	f.stock(t, "x", 2)
	f.gw.lookupErr = unavailable()
	ctx := context.Background()

	o, err := f.co.Checkout(ctx, Request{UserID: "u1", Cart: oneLine("x", 1, 1000)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ReasonTimeout))
	assert.Equal(t, orders.StatusPaymentPending, o.Status)
	assert.Equal(t, 1, f.gw.Calls())
	attempts, _ := f.co.Attempts(ctx, o.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, orders.OutcomePending, attempts[0].Outcome)
	rec := f.record(t, "x")
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, 1, rec.Reserved)

	f.gw.lookupErr = nil
	f.clock.Advance(ttl + time.Minute)
	rep, err := f.co.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Paid)

	got, _ := f.co.Order(ctx, o.ID)
	assert.Equal(t, orders.StatusPaid, got.Status)
	assert.Equal(t, "pi_1", got.ProviderRef)
	assert.Empty(t, f.gw.refunds)
	rec = f.record(t, "x")
	assert.Equal(t, 1, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestRecover_MissingCaptureFailsAttemptAsTimeout(t *testing.T) {
	f := newFixture(t, newGateway(step{err: timeout()}))
	f.stock(t, "x", 1)
	f.gw.lookupErr = unavailable()
	ctx := context.Background()

	o, err := f.co.Checkout(ctx, Request{UserID: "u1", Cart: oneLine("x", 1, 1000)})
	require.Error(t, err)
	require.Equal(t, orders.StatusPaymentPending, o.Status)

	f.gw.lookupErr = nil
	f.clock.Advance(6 * time.Minute)
	rep, err := f.co.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	attempts, _ := f.co.Attempts(ctx, o.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, orders.OutcomeFailed, attempts[0].Outcome)
	assert.Equal(t, string(apperr.ReasonTimeout), attempts[0].ErrorReason)
	assert.Equal(t, 1, f.record(t, "x").Available)
}

func TestRecover_FinishesPaidOrderWithHeldStock(t *testing.T) {
	f := newFixture(t, newGateway())
	f.stock(t, "x", 10)
	f.coupon(t, coupons.Coupon{Code: "TEN", Kind: coupons.KindPercentage, PercentOff: decimal.NewFromInt(10)})
	ctx := context.Background()

	k := oneLine("x", 2, 1000)
	q, err := f.engine.Validate(ctx, "TEN", k, "u1")
	require.NoError(t, err)
	tok, err := f.ledger.Reserve(ctx, "x", 2)
	require.NoError(t, err)
	o, err := f.store.Create(ctx, orders.NewOrder{UserID: "u1", Cart: k, Quote: &q, Tokens: []inventory.Token{tok}})
	require.NoError(t, err)
	_, err = f.store.Transition(ctx, o.ID, orders.StatusCreated, orders.StatusPaymentPending)
	require.NoError(t, err)
	_, err = f.store.Transition(ctx, o.ID, orders.StatusPaymentPending, orders.StatusPaid)
	require.NoError(t, err)

	f.clock.Advance(ttl + time.Minute)
	rep, err := f.co.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Finished)
	assert.Equal(t, 1, f.usedCount(t, "TEN"))
	rec := f.record(t, "x")
	assert.Equal(t, 8, rec.Available)
	assert.Equal(t, 0, rec.Reserved)

	rep, err = f.co.Recover(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Empty())
	assert.Equal(t, 1, f.usedCount(t, "TEN"))
}
