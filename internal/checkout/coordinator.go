// Package checkout drives an order from cart to a settled payment across the
// inventory ledger, the coupon engine, the order store and the payment
// gateway. Every step it takes is recorded so that a crash between steps can
// be finished by Recover.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/metrics"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("checkout")

// Publisher receives order lifecycle events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, env orders.Envelope) error
}

type Options struct {
	Retry    Policy
	Currency string
	// StaleAfter is how long an order may sit in CREATED or PAYMENT_PENDING
	// before Recover takes it over.
	StaleAfter time.Duration
	SweepBatch int
	// CompensationTimeout bounds the steps that must finish after the
	// caller's context is gone: settling a captured payment, releasing
	// stock, refunding.
	CompensationTimeout time.Duration
	Producer            string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Events  Publisher

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Coordinator struct {
	ledger  inventory.Ledger
	coupons *coupons.Engine
	store   orders.Store
	gateway payment.Gateway

	retry       Policy
	currency    string
	staleAfter  time.Duration
	batch       int
	compTimeout time.Duration
	producer    string

	log     *zap.Logger
	metrics *metrics.Metrics
	events  Publisher
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func New(ledger inventory.Ledger, engine *coupons.Engine, store orders.Store, gateway payment.Gateway, opts Options) *Coordinator {
	c := &Coordinator{
		ledger:      ledger,
		coupons:     engine,
		store:       store,
		gateway:     gateway,
		retry:       opts.Retry.withDefaults(),
		currency:    opts.Currency,
		staleAfter:  opts.StaleAfter,
		batch:       opts.SweepBatch,
		compTimeout: opts.CompensationTimeout,
		producer:    opts.Producer,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		events:      opts.Events,
		sleep:       opts.Sleep,
		now:         opts.Now,
	}
	if c.currency == "" {
		c.currency = "usd"
	}
	if c.staleAfter <= 0 {
		c.staleAfter = 5 * time.Minute
	}
	if c.batch <= 0 {
		c.batch = 100
	}
	if c.compTimeout <= 0 {
		c.compTimeout = 30 * time.Second
	}
	if c.producer == "" {
		c.producer = "checkout-core"
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.sleep == nil {
		c.sleep = sleep
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type Request struct {
	UserID        string    `json:"user_id"`
	Cart          cart.Cart `json:"cart"`
	CouponCode    string    `json:"coupon_code,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
}

// Checkout reserves the cart, prices it, creates the order and captures the
// payment. It returns the PAID order, or an error together with the order as
// far as it got (zero when no order was created).
func (c *Coordinator) Checkout(ctx context.Context, req Request) (o orders.Order, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "checkout")
	span.SetAttributes(attribute.String("user_id", req.UserID), attribute.Int("lines", len(req.Cart.Lines)))
	defer func() {
		outcome := Outcome(err)
		c.metrics.Checkout(outcome, time.Since(start))
		fields := []zap.Field{
			zap.String("order_id", o.ID),
			zap.String("user_id", req.UserID),
			zap.String("outcome", outcome),
			zap.String("status", string(o.Status)),
			zap.Int64("total_cents", o.TotalCents),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			fields = append(fields, zap.Error(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("order_id", o.ID), attribute.String("outcome", outcome))
		span.End()
		c.logger(ctx).Info("checkout_done", fields...)
	}()

	if strings.TrimSpace(req.UserID) == "" {
		return orders.Order{}, apperr.Validation(apperr.ReasonInvalidInput, "user id is required")
	}
	if err := req.Cart.Validate(); err != nil {
		return orders.Order{}, err
	}

	var quote *coupons.Quote
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		q, err := c.coupons.Validate(ctx, code, req.Cart, req.UserID)
		if err != nil {
			return orders.Order{}, err
		}
		quote = &q
	}

	tokens, err := c.reserve(ctx, req.Cart)
	if err != nil {
		return orders.Order{}, err
	}

	created, err := c.store.Create(ctx, orders.NewOrder{
		UserID:   req.UserID,
		Cart:     req.Cart,
		Quote:    quote,
		Tokens:   tokens,
		Currency: c.currency,
	})
	if err != nil {
		c.releaseTokens(ctx, tokenIDs(tokens))
		return orders.Order{}, err
	}
	c.publish(ctx, orders.EventOrderCreated, created, "")

	pending, err := c.store.Transition(ctx, created.ID, orders.StatusCreated, orders.StatusPaymentPending)
	if err != nil {
		// left CREATED; Recover cancels it and frees the stock
		return created, err
	}
	return c.pay(ctx, pending, req.PaymentMethod)
}

func (c *Coordinator) reserve(ctx context.Context, k cart.Cart) ([]inventory.Token, error) {
	ctx, span := tracer.Start(ctx, "checkout.reserve")
	defer span.End()

	tokens := make([]inventory.Token, 0, len(k.Lines))
	for _, line := range k.Lines {
		t, err := c.ledger.Reserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			span.RecordError(err)
			c.releaseTokens(ctx, tokenIDs(tokens))
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// pay runs the capture attempts of a PAYMENT_PENDING order.
func (c *Coordinator) pay(ctx context.Context, o orders.Order, method string) (orders.Order, error) {
	if o.TotalCents == 0 {
		return c.settle(ctx, o, payment.Result{Status: payment.StatusSucceeded})
	}
	for n := 1; ; n++ {
		res, err := c.capture(ctx, o, n, method)
		if err == nil {
			return c.settle(ctx, o, res)
		}
		if ctx.Err() != nil {
			c.logger(ctx).Warn("checkout_deadline", zap.String("order_id", o.ID), zap.Int("attempt", n), zap.Error(err))
			return o, apperr.Provider(apperr.ReasonTimeout, ctx.Err(), "checkout deadline exceeded; order %s left %s", o.ID, o.Status)
		}
		if apperr.Is(err, apperr.ReasonTimeout) {
			res, ok, lerr := c.resolveTimeout(ctx, o, n)
			if lerr != nil {
				// charging again could charge twice; Recover resolves the attempt
				return o, apperr.Provider(apperr.ReasonTimeout, lerr, "outcome of capture %d for order %s unknown; order left %s", n, o.ID, o.Status)
			}
			if ok {
				return c.settle(ctx, o, res)
			}
		}
		if !apperr.IsTransient(err) || n >= c.retry.MaxAttempts {
			return c.fail(ctx, o, err)
		}
		if werr := c.sleep(ctx, c.retry.Delay(n)); werr != nil {
			return o, apperr.Provider(apperr.ReasonTimeout, werr, "checkout deadline exceeded; order %s left %s", o.ID, o.Status)
		}
	}
}

// capture records attempt n, calls the gateway and records the outcome. A
// timed out attempt stays pending because its outcome is unknown.
func (c *Coordinator) capture(ctx context.Context, o orders.Order, n int, method string) (payment.Result, error) {
	key := payment.IdempotencyKey(o.ID, n)
	if _, err := c.store.AppendAttempt(ctx, orders.Attempt{
		OrderID:        o.ID,
		Number:         n,
		IdempotencyKey: key,
		AmountCents:    o.TotalCents,
	}); err != nil {
		return payment.Result{}, err
	}

	res, err := c.gateway.Capture(ctx, payment.CaptureRequest{
		OrderID:        o.ID,
		AmountCents:    o.TotalCents,
		Currency:       o.Currency,
		IdempotencyKey: key,
		PaymentMethod:  method,
	})
	if err == nil && res.Status != payment.StatusSucceeded {
		err = apperr.Provider(apperr.ReasonDeclined, nil, "capture for order %s returned %s", o.ID, res.Status)
	}

	cctx, cancel := c.detached(ctx)
	defer cancel()
	log := c.logger(ctx).With(zap.String("order_id", o.ID), zap.Int("attempt", n))
	switch {
	case err == nil:
		c.metrics.PaymentAttempt("succeeded")
		if _, cerr := c.store.CompleteAttempt(cctx, o.ID, n, orders.OutcomeSucceeded, res.ProviderRef, ""); cerr != nil {
			log.Error("record_capture_failed", zap.String("provider_ref", res.ProviderRef), zap.Error(cerr))
		}
		return res, nil
	case apperr.Is(err, apperr.ReasonTimeout):
		c.metrics.PaymentAttempt("timeout")
		log.Warn("capture_timeout", zap.Error(err))
	default:
		reason := string(apperr.ReasonOf(err))
		c.metrics.PaymentAttempt(strings.ToLower(reason))
		log.Warn("capture_failed", zap.String("reason", reason), zap.Error(err))
		if _, cerr := c.store.CompleteAttempt(cctx, o.ID, n, orders.OutcomeFailed, "", reason); cerr != nil {
			log.Error("record_attempt_failed", zap.Error(cerr))
		}
	}
	return payment.Result{}, err
}

// resolveTimeout asks the provider what happened to timed out attempt n
// before anything else is charged. ok is true when that attempt captured. A
// lookup error leaves the attempt pending and is returned.
func (c *Coordinator) resolveTimeout(ctx context.Context, o orders.Order, n int) (payment.Result, bool, error) {
	key := payment.IdempotencyKey(o.ID, n)
	log := c.logger(ctx).With(zap.String("order_id", o.ID), zap.Int("attempt", n))

	res, found, err := c.gateway.Lookup(ctx, key)
	if err != nil {
		log.Warn("capture_lookup_failed", zap.Error(err))
		return payment.Result{}, false, err
	}
	if found && res.Status == payment.StatusSucceeded {
		log.Info("capture_adopted", zap.String("provider_ref", res.ProviderRef))
		c.completeAttempt(ctx, o.ID, n, orders.OutcomeSucceeded, res.ProviderRef, "")
		return res, true, nil
	}
	reason := string(apperr.ReasonTimeout)
	if found {
		reason = string(apperr.ReasonDeclined)
	}
	c.completeAttempt(ctx, o.ID, n, orders.OutcomeFailed, "", reason)
	return payment.Result{}, false, nil
}

func (c *Coordinator) completeAttempt(ctx context.Context, orderID string, n int, outcome orders.Outcome, ref, reason string) {
	cctx, cancel := c.detached(ctx)
	defer cancel()
	if _, err := c.store.CompleteAttempt(cctx, orderID, n, outcome, ref, reason); err != nil {
		c.logger(ctx).Error("record_attempt_failed", zap.String("order_id", orderID), zap.Int("attempt", n), zap.Error(err))
	}
}

// detached outlives the caller's cancellation. Work that has to finish once
// money moved, or stock must go back, runs on it.
func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.compTimeout)
}

func (c *Coordinator) logger(ctx context.Context) *zap.Logger {
	return logging.From(ctx, c.log)
}

func tokenIDs(ts []inventory.Token) []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.ID)
	}
	return ids
}

// Outcome is the metric label of a checkout result.
func Outcome(err error) string {
	if err == nil {
		return "paid"
	}
	reason := apperr.ReasonOf(err)
	if reason == "" {
		return "error"
	}
	return strings.ToLower(string(reason))
}
