package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-checkout-core/internal/app"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/projector"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "checkout-worker"
	}
	log := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup_failed", zap.Error(err))
	}
	defer a.Close()

	if a.LocalSweep() {
		log.Warn("worker_memory_storage", zap.String("hint", "the api sweeps its own in-memory state"))
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.SweepLoop(ctx, a.Checkout, a.Redis, cfg.SweepInterval, log.Named("sweep"))
	}()

	if a.Redis != nil && len(cfg.KafkaBrokers) > 0 {
		proj := projector.New(a.Redis, cfg.ServiceName, log)
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, cfg.KafkaTopic, cfg.ProjectorWorkers, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("projector_started", zap.String("group", cfg.ProjectorGroup),
				zap.String("topic", cfg.KafkaTopic), zap.Int("workers", cfg.ProjectorWorkers))
			if err := cons.Start(ctx, proj.Handle); err != nil {
				log.Error("projector_exit", zap.Error(err))
				cancel()
			}
		}()
	} else {
		log.Warn("projector_disabled", zap.Bool("redis", a.Redis != nil), zap.Int("brokers", len(cfg.KafkaBrokers)))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down")
	cancel()
	wg.Wait()
	if a.Producer != nil {
		a.Producer.WaitClosed()
	}
}
