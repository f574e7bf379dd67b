package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
)

// StripeProvider captures with confirmed PaymentIntents. Stripe replays the
// stored response for a repeated Idempotency-Key, and the key is also kept in
// the intent metadata so Lookup can find it through the search API.
type StripeProvider struct {
	currency      string
	paymentMethod string
}

func NewStripeProvider(secretKey, defaultPaymentMethod, currency string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("payment: stripe secret key is empty")
	}
	stripe.Key = secretKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeProvider{currency: strings.ToLower(currency), paymentMethod: defaultPaymentMethod}, nil
}

func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	currency := p.currency
	if req.Currency != "" {
		currency = strings.ToLower(req.Currency)
	}
	method := req.PaymentMethod
	if method == "" {
		method = p.paymentMethod
	}
	if method == "" {
		return Result{}, apperr.Provider(apperr.ReasonDeclined, nil, "no payment method for order %s", req.OrderID)
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(currency),
		PaymentMethod:      stripe.String(method),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
		Metadata: map[string]string{
			"order_id":        req.OrderID,
			"idempotency_key": req.IdempotencyKey,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return Result{}, classifyStripe(err)
	}
	return intentResult(pi, req.IdempotencyKey)
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderRef),
		Amount:        stripe.Int64(req.AmountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	if _, err := refund.New(params); err != nil {
		return classifyStripe(err)
	}
	return nil
}

func (p *StripeProvider) Lookup(ctx context.Context, key string) (Result, bool, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['idempotency_key']:'%s'", key)
	params.Context = ctx

	it := paymentintent.Search(params)
	for it.Next() {
		res, err := intentResult(it.PaymentIntent(), key)
		if err == nil {
			return res, true, nil
		}
		if apperr.Is(err, apperr.ReasonDeclined) {
			return Result{Status: StatusFailed, ProviderRef: it.PaymentIntent().ID, IdempotencyKey: key}, true, nil
		}
		return Result{}, false, err
	}
	if err := it.Err(); err != nil {
		return Result{}, false, classifyStripe(err)
	}
	return Result{}, false, nil
}

func intentResult(pi *stripe.PaymentIntent, key string) (Result, error) {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Result{Status: StatusSucceeded, ProviderRef: pi.ID, AmountCents: pi.Amount, IdempotencyKey: key}, nil
	case stripe.PaymentIntentStatusProcessing:
		return Result{}, apperr.Provider(apperr.ReasonTimeout, nil, "payment intent %s still processing", pi.ID)
	default:
		return Result{}, apperr.Provider(apperr.ReasonDeclined, nil, "payment intent %s ended %s", pi.ID, pi.Status)
	}
}

func classifyStripe(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperr.Provider(apperr.ReasonProviderUnavailable, err, "stripe request failed")
	}
	switch {
	case se.Code == stripe.ErrorCodeChargeAlreadyRefunded:
		return apperr.Provider(apperr.ReasonAlreadyRefunded, err, "%s", se.Msg)
	case se.Type == stripe.ErrorTypeCard:
		return apperr.Provider(apperr.ReasonDeclined, err, "card declined: %s", se.DeclineCode)
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return apperr.Provider(apperr.ReasonProviderUnavailable, err, "stripe unavailable")
	default:
		return apperr.Provider(apperr.ReasonDeclined, err, "stripe rejected request: %s", se.Msg)
	}
}
