package payment

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const DefaultCaptureTimeout = 10 * time.Second

type AdapterOptions struct {
	// CaptureTimeout bounds every provider call.
	CaptureTimeout time.Duration
	// TripAfter consecutive transient failures opens the breaker.
	TripAfter   uint32
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

// Adapter is the only caller of the provider. It bounds each call with a
// timeout, normalises every failure into the provider error taxonomy and
// stops calling a failing provider through a circuit breaker.
type Adapter struct {
	provider Gateway
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[Result]
	log      *zap.Logger
}

func NewAdapter(provider Gateway, opts AdapterOptions) *Adapter {
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = DefaultCaptureTimeout
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("payment")

	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.TripAfter
		},
		// business outcomes do not count against the provider's health
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_breaker_state", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Adapter{provider: provider, timeout: opts.CaptureTimeout, cb: cb, log: log}
}

func (a *Adapter) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	if req.IdempotencyKey == "" {
		return Result{}, apperr.Validation(apperr.ReasonInvalidInput, "capture without idempotency key")
	}
	if req.AmountCents <= 0 {
		return Result{}, apperr.Validation(apperr.ReasonInvalidInput, "capture amount must be positive")
	}
	ctx, span := otel.Tracer("payment").Start(ctx, "payment.capture")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.Int64("amount_cents", req.AmountCents),
	)

	res, err := a.call(ctx, func(ctx context.Context) (Result, error) {
		return a.provider.Capture(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.ReasonOf(err)))
		return Result{}, err
	}
	if res.IdempotencyKey == "" {
		res.IdempotencyKey = req.IdempotencyKey
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (a *Adapter) Refund(ctx context.Context, req RefundRequest) error {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = RefundKey(req.OrderID, req.ProviderRef)
	}
	_, err := a.call(ctx, func(ctx context.Context) (Result, error) {
		return Result{}, a.provider.Refund(ctx, req)
	})
	return err
}

func (a *Adapter) Lookup(ctx context.Context, key string) (Result, bool, error) {
	var found bool
	res, err := a.call(ctx, func(ctx context.Context) (Result, error) {
		r, ok, err := a.provider.Lookup(ctx, key)
		found = ok
		return r, err
	})
	if err != nil {
		return Result{}, false, err
	}
	return res, found, nil
}

func (a *Adapter) call(ctx context.Context, fn func(context.Context) (Result, error)) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.cb.Execute(func() (Result, error) {
		r, err := fn(cctx)
		if err != nil {
			return r, classify(cctx, err)
		}
		return r, nil
	})
	if err != nil {
		return Result{}, classify(cctx, err)
	}
	return res, nil
}

// classify maps anything the provider or breaker returns onto the closed
// provider error set.
func classify(ctx context.Context, err error) error {
	var pe *apperr.ProviderError
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Provider(apperr.ReasonProviderUnavailable, err, "circuit open")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Provider(apperr.ReasonTimeout, err, "provider call timed out")
	case errors.Is(err, context.Canceled):
		return apperr.Provider(apperr.ReasonTimeout, err, "provider call cancelled")
	default:
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return apperr.Provider(apperr.ReasonProviderUnavailable, err, "provider call failed")
	}
}
