package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/google/uuid"
)

// Order line items and the locked discount never change after creation;
// only Status and ProviderRef do.
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Items          []cart.Line `json:"items"`
	CouponCode     string      `json:"coupon_code,omitempty"`
	SubtotalCents  int64       `json:"subtotal_cents"`
	DiscountCents  int64       `json:"discount_cents"`
	TotalCents     int64       `json:"total_cents"`
	Currency       string      `json:"currency"`
	Status         Status      `json:"status"`
	ProviderRef    string      `json:"provider_ref,omitempty"`
	ReservationIDs []string    `json:"reservation_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one entry of the append-only payment log of an order.
type Attempt struct {
	OrderID        string    `json:"order_id"`
	Number         int       `json:"number"`
	IdempotencyKey string    `json:"idempotency_key"`
	AmountCents    int64     `json:"amount_cents"`
	Outcome        Outcome   `json:"outcome"`
	ProviderRef    string    `json:"provider_ref,omitempty"`
	ErrorReason    string    `json:"error_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type NewOrder struct {
	UserID   string
	Cart     cart.Cart
	Quote    *coupons.Quote
	Tokens   []inventory.Token
	Currency string
}

type Store interface {
	// Create persists the order in CREATED and binds the reservation tokens
	// to it in the same step.
	Create(ctx context.Context, n NewOrder) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	// Transition is a compare-and-swap on status.
	Transition(ctx context.Context, id string, from, to Status) (Order, error)

	AppendAttempt(ctx context.Context, a Attempt) (Attempt, error)
	// CompleteAttempt finalises a pending attempt. A succeeded attempt also
	// records its provider reference on the order.
	CompleteAttempt(ctx context.Context, orderID string, number int, outcome Outcome, providerRef, reason string) (Attempt, error)
	Attempts(ctx context.Context, orderID string) ([]Attempt, error)

	// Stale lists orders in one of statuses not updated since before.
	Stale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Order, error)
}

func build(n NewOrder, now time.Time) (Order, error) {
	if n.UserID == "" {
		return Order{}, apperr.Validation(apperr.ReasonInvalidInput, "user id is required")
	}
	if err := n.Cart.Validate(); err != nil {
		return Order{}, err
	}
	if len(n.Tokens) == 0 {
		return Order{}, apperr.Validation(apperr.ReasonInvalidInput, "order needs at least one reservation")
	}
	subtotal := n.Cart.SubtotalCents()
	o := Order{
		ID:            uuid.NewString(),
		UserID:        n.UserID,
		Items:         append([]cart.Line(nil), n.Cart.Lines...),
		SubtotalCents: subtotal,
		TotalCents:    subtotal,
		Currency:      n.Currency,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.Currency == "" {
		o.Currency = "usd"
	}
	if q := n.Quote; q != nil {
		if q.SubtotalCents != subtotal {
			return Order{}, apperr.Validation(apperr.ReasonInvalidInput, "coupon quote was priced for a different cart")
		}
		o.CouponCode = q.Code
		o.DiscountCents = q.DiscountCents
		o.TotalCents = subtotal - q.DiscountCents
	}
	for _, t := range n.Tokens {
		o.ReservationIDs = append(o.ReservationIDs, t.ID)
	}
	return o, nil
}

func notFound(id string) error {
	return apperr.Validation(apperr.ReasonOrderNotFound, "order not found: %s", id)
}

func badTransition(id string, from, to Status) error {
	return apperr.StaleState(id, "order %s: transition %s -> %s not allowed", id, from, to)
}
