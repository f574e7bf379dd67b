// Package httpx is the HTTP surface of the checkout core.
package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultRequestTimeout covers a checkout whose three attempts all time out
// with the default payment settings.
const DefaultRequestTimeout = 70 * time.Second

type Deps struct {
	Checkout *checkout.Coordinator
	Coupons  *coupons.Engine
	Ledger   inventory.Ledger

	// Idempotency and Status are optional; nil disables request replay and
	// the status cache.
	Idempotency *redisx.Idempotency
	Status      *redisx.StatusCache

	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Service names the server spans.
	Service string
	// RequestTimeout must outlast a checkout's retries, see
	// config.Config.CheckoutBudget.
	RequestTimeout time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Service == "" {
		d.Service = "checkout-api"
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(tracing(d.Service))
	r.Use(observe(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusNotFound, "Path Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	(&CheckoutHandler{Checkout: d.Checkout, Idempotency: d.Idempotency}).Register(r)
	(&OrdersHandler{Checkout: d.Checkout, Status: d.Status}).Register(r)
	(&CouponsHandler{Coupons: d.Coupons}).Register(r)
	(&StockHandler{Ledger: d.Ledger}).Register(r)
	return r
}
