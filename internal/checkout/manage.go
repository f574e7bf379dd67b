package checkout

import (
	"context"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
)

func (c *Coordinator) Order(ctx context.Context, id string) (orders.Order, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) Attempts(ctx context.Context, id string) ([]orders.Attempt, error) {
	if _, err := c.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.store.Attempts(ctx, id)
}

// Cancel abandons an order that holds no payment: CREATED or
// PAYMENT_FAILED. Its reservations go back to stock.
func (c *Coordinator) Cancel(ctx context.Context, id string) (orders.Order, error) {
	o, err := c.store.Get(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status != orders.StatusCreated && o.Status != orders.StatusPaymentFailed {
		return o, apperr.StaleState(id, "order %s is %s and cannot be cancelled", id, o.Status)
	}
	cancelled, err := c.store.Transition(ctx, id, o.Status, orders.StatusCancelled)
	if err != nil {
		return o, err
	}
	c.releaseTokens(ctx, cancelled.ReservationIDs)
	c.publish(ctx, orders.EventOrderCancelled, cancelled, "cancelled by request")
	return cancelled, nil
}

// Fulfill hands a PAID order over to fulfilment.
func (c *Coordinator) Fulfill(ctx context.Context, id string) (orders.Order, error) {
	o, err := c.store.Transition(ctx, id, orders.StatusPaid, orders.StatusFulfilling)
	if err != nil {
		return orders.Order{}, err
	}
	c.publish(ctx, orders.EventOrderFulfilled, o, "")
	return o, nil
}
