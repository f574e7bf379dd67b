package app

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func memoryConfig() config.Config {
	return config.Config{
		ServiceName:     "checkout-test",
		Storage:         "memory",
		PaymentProvider: "simulator",
		Currency:        "usd",
		CaptureTimeout:  time.Second,
		RetryAttempts:   3,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   time.Millisecond,
		ReservationTTL:  time.Minute,
		StaleAfter:      time.Minute,
	}
}

func TestOpen_MemoryStack(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Producer)
	assert.True(t, a.LocalSweep())

	_, err = a.Ledger.SetAvailable(ctx, "p1", 2)
	require.NoError(t, err)

	o, err := a.Checkout.Checkout(ctx, checkout.Request{
		UserID: "u1",
		Cart:   cart.Cart{Lines: []cart.Line{{ProductID: "p1", Quantity: 1, UnitPriceCents: 500}}},
	})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)

	mfs, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["checkout_requests_total"])
	assert.True(t, names["go_goroutines"])
}

func TestOpen_RejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage = "sqlite"
	_, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "STORAGE")

	cfg = memoryConfig()
	cfg.PaymentProvider = "paypal"
	_, err = Open(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "PAYMENT_PROVIDER")
}
