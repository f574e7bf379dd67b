package app

import (
	"context"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLoop runs Recover every interval until ctx is done. With redis
// configured only one replica sweeps at a time.
func SweepLoop(ctx context.Context, co *checkout.Coordinator, rdb *redis.Client, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		SweepOnce(ctx, co, rdb, every, log)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func SweepOnce(ctx context.Context, co *checkout.Coordinator, rdb *redis.Client, every time.Duration, log *zap.Logger) {
	if rdb != nil {
		unlock, ok, err := redisx.TryLock(ctx, rdb, redisx.KeyLockRecoverySweep, 2*every)
		if err != nil {
			log.Warn("sweep_lock_failed", zap.Error(err))
			return
		}
		if !ok {
			log.Debug("sweep_skipped", zap.String("reason", "lock held"))
			return
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("sweep_unlock_failed", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	rep, err := co.Recover(logging.With(ctx, log))
	fields := []zap.Field{
		zap.Int("orphans_released", rep.OrphansReleased),
		zap.Int("cancelled", rep.Cancelled),
		zap.Int("paid", rep.Paid),
		zap.Int("failed", rep.Failed),
		zap.Int("finished", rep.Finished),
		zap.Int("released", rep.Released),
		zap.Int("pending", rep.Pending),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	switch {
	case err != nil:
		log.Error("sweep_done", append(fields, zap.Error(err))...)
	case rep.Empty():
		log.Debug("sweep_done", fields...)
	default:
		log.Info("sweep_done", fields...)
	}
}
