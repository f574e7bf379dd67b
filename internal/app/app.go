// Package app assembles the checkout core from configuration. Both binaries
// share it so the API and the worker always see the same stores.
package app

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/config"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/events"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"github.com/ariefcatur/go-checkout-core/internal/postgres"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Config config.Config
	Log    *zap.Logger

	DB       *pgxpool.Pool
	Redis    *redis.Client
	Producer *kafkax.Producer

	Ledger   inventory.Ledger
	Coupons  *coupons.Engine
	Orders   orders.Store
	Gateway  payment.Gateway
	Checkout *checkout.Coordinator

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// Open connects every backing service named by cfg. The producer, when
// configured, runs until ctx is done.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	gw, err := newGateway(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Gateway = gw

	if cfg.RedisAddr != "" {
		a.Redis = redisx.New(cfg.RedisAddr)
	}

	opts := checkout.Options{
		Retry: checkout.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Currency:   cfg.Currency,
		StaleAfter: cfg.StaleAfter,
		Producer:   cfg.ServiceName,
		Logger:     log,
		Metrics:    a.Metrics,
	}
	if len(cfg.KafkaBrokers) > 0 {
		a.Producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, 1024, log)
		a.Producer.Start(ctx)
		opts.Events = events.NewEmitter(a.Producer)
	}
	a.Checkout = checkout.New(a.Ledger, a.Coupons, a.Orders, a.Gateway, opts)
	return a, nil
}

// LocalSweep reports whether the recovery sweep has to run inside this
// process. In-memory stores are invisible to a separate worker.
func (a *App) LocalSweep() bool {
	return a.Config.Storage == "memory"
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.Storage {
	case "memory":
		ledger := inventory.NewMemoryLedger(a.Config.ReservationTTL)
		a.Ledger = ledger
		a.Orders = orders.NewMemoryRepo(ledger)
		a.Coupons = coupons.NewEngine(coupons.NewMemoryRepo())
		a.Log.Warn("storage_in_memory", zap.String("hint", "state is lost on restart"))
		return nil
	case "postgres":
		db, err := postgres.Connect(ctx, a.Config.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		a.DB = db
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		a.Ledger = &inventory.Repo{DB: db, TTL: a.Config.ReservationTTL}
		a.Orders = &orders.Repo{DB: db}
		a.Coupons = coupons.NewEngine(&coupons.Repo{DB: db})
		return nil
	}
	return fmt.Errorf("unknown STORAGE %q", a.Config.Storage)
}

func newGateway(cfg config.Config, log *zap.Logger) (payment.Gateway, error) {
	var provider payment.Gateway
	switch cfg.PaymentProvider {
	case "simulator":
		provider = payment.NewSimulator(payment.SimulatorOptions{
			DeclineRate: cfg.SimulatorDeclineRate,
			FailureRate: cfg.SimulatorFailureRate,
		})
	case "stripe":
		p, err := payment.NewStripeProvider(cfg.StripeSecretKey, cfg.StripePaymentMethod, cfg.Currency)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	return payment.NewAdapter(provider, payment.AdapterOptions{
		CaptureTimeout: cfg.CaptureTimeout,
		TripAfter:      cfg.BreakerTripAfter,
		OpenTimeout:    cfg.BreakerOpenTimeout,
		Logger:         log,
	}), nil
}

// Close releases the clients. The producer is stopped by cancelling the
// context given to Open; wait for it with Producer.WaitClosed first.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
