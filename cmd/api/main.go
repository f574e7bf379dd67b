package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/app"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	"github.com/ariefcatur/go-checkout-core/internal/httpx"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
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

	var wg sync.WaitGroup
	if a.LocalSweep() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.SweepLoop(ctx, a.Checkout, a.Redis, cfg.SweepInterval, log.Named("sweep"))
		}()
	}

	deps := httpx.Deps{
		Checkout: a.Checkout,
		Coupons:  a.Coupons,
		Ledger:   a.Ledger,
		Logger:   log,
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
		Service:  cfg.ServiceName,

		RequestTimeout: cfg.RequestTimeout,
	}
	if a.Redis != nil {
		deps.Idempotency = redisx.NewIdempotency(a.Redis)
		deps.Status = redisx.NewStatusCache(a.Redis)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage),
			zap.String("payment_provider", cfg.PaymentProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen_failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http_shutdown", zap.Error(err))
	}
	cancel() // stops the sweep and the producer loop, which flushes and closes the writer
	wg.Wait()
	if a.Producer != nil {
		a.Producer.WaitClosed()
	}
}
