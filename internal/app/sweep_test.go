package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweepOnce_SkipsWhileLockIsHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Now()
	ledger := inventory.NewMemoryLedger(time.Minute)
	_, err := ledger.SetAvailable(ctx, "p1", 3)
	require.NoError(t, err)
	// reserved an hour ago and never attached to an order
	ledger.WithClock(func() time.Time { return now.Add(-time.Hour) })
	_, err = ledger.Reserve(ctx, "p1", 2)
	require.NoError(t, err)
	ledger.WithClock(func() time.Time { return now })

	co := checkout.New(ledger, coupons.NewEngine(coupons.NewMemoryRepo()), orders.NewMemoryRepo(ledger),
		payment.NewSimulator(payment.SimulatorOptions{Seed: 1}), checkout.Options{Now: func() time.Time { return now }})
	log := zaptest.NewLogger(t)

	require.NoError(t, mr.Set(redisx.KeyLockRecoverySweep, "other-replica"))
	SweepOnce(ctx, co, rdb, time.Second, log)
	rec, err := ledger.Record(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Available)

	mr.Del(redisx.KeyLockRecoverySweep)
	SweepOnce(ctx, co, rdb, time.Second, log)
	rec, err = ledger.Record(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Available)
	assert.False(t, mr.Exists(redisx.KeyLockRecoverySweep))
}

func TestSweepLoop_MemoryStackReleasesWithoutRedis(t *testing.T) {
	cfg := memoryConfig()
	cfg.ReservationTTL = time.Millisecond
	a, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	require.True(t, a.LocalSweep())

	ctx, cancel := context.WithCancel(context.Background())
	_, err = a.Ledger.SetAvailable(ctx, "p1", 2)
	require.NoError(t, err)
	_, err = a.Ledger.Reserve(ctx, "p1", 2)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		SweepLoop(ctx, a.Checkout, a.Redis, time.Hour, zaptest.NewLogger(t))
	}()
	assert.Eventually(t, func() bool {
		rec, err := a.Ledger.Record(context.Background(), "p1")
		return err == nil && rec.Available == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
