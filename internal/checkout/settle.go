package checkout

import (
	"context"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// settle claims a captured order as PAID and then finishes it. Losing the
// claim means another worker moved the order first; the capture is refunded
// unless that worker settled the very same capture.
func (c *Coordinator) settle(ctx context.Context, o orders.Order, res payment.Result) (orders.Order, error) {
	cctx, cancel := c.detached(ctx)
	defer cancel()

	paid, err := c.store.Transition(cctx, o.ID, orders.StatusPaymentPending, orders.StatusPaid)
	if apperr.Is(err, apperr.ReasonStaleState) {
		return c.compensate(cctx, o, res)
	}
	if err != nil {
		// attempt is recorded as succeeded; Recover settles the order
		c.logger(ctx).Error("settle_failed", zap.String("order_id", o.ID), zap.Error(err))
		return o, err
	}
	c.publish(cctx, orders.EventOrderPaid, paid, "")
	if err := c.finish(cctx, paid); err != nil {
		c.logger(ctx).Warn("finish_deferred", zap.String("order_id", o.ID), zap.Error(err))
	}
	return paid, nil
}

// finish redeems the coupon and commits the reservations of a PAID order.
// Tokens are committed last, so held tokens on a PAID order mean unfinished
// work for Recover. Both steps are idempotent.
func (c *Coordinator) finish(ctx context.Context, o orders.Order) error {
	log := c.logger(ctx).With(zap.String("order_id", o.ID))
	if o.CouponCode != "" {
		err := c.coupons.Redeem(ctx, o.ID, o.UserID, coupons.Quote{
			Code:          o.CouponCode,
			SubtotalCents: o.SubtotalCents,
			DiscountCents: o.DiscountCents,
			TotalCents:    o.TotalCents,
		})
		switch {
		case apperr.Is(err, apperr.ReasonUsageLimitExceeded), apperr.Is(err, apperr.ReasonCouponNotFound):
			// the customer already paid the locked price
			log.Warn("coupon_not_redeemed", zap.String("coupon", o.CouponCode), zap.Error(err))
		case err != nil:
			return err
		}
	}
	for _, id := range o.ReservationIDs {
		if err := c.ledger.Commit(ctx, id); err != nil {
			if apperr.Is(err, apperr.ReasonStaleState) {
				ierr := apperr.Integrity(o.ID, err, "reservation %s of paid order was released", id)
				log.Error("integrity_violation", zap.String("token_id", id), zap.Error(ierr))
				return ierr
			}
			return err
		}
	}
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, o orders.Order, res payment.Result) (orders.Order, error) {
	log := c.logger(ctx).With(zap.String("order_id", o.ID), zap.String("provider_ref", res.ProviderRef))
	cur, err := c.store.Get(ctx, o.ID)
	if err != nil {
		return o, err
	}
	if (cur.Status == orders.StatusPaid || cur.Status == orders.StatusFulfilling) && cur.ProviderRef == res.ProviderRef {
		return cur, nil
	}
	if res.ProviderRef == "" {
		return cur, apperr.StaleState(o.ID, "order %s moved to %s during checkout", o.ID, cur.Status)
	}

	log.Warn("refund_lost_claim", zap.String("status", string(cur.Status)))
	err = c.gateway.Refund(ctx, payment.RefundRequest{
		OrderID:     o.ID,
		ProviderRef: res.ProviderRef,
		AmountCents: o.TotalCents,
	})
	if err != nil && !apperr.Is(err, apperr.ReasonAlreadyRefunded) {
		ierr := apperr.Integrity(o.ID, err, "capture %s could not be refunded", res.ProviderRef)
		log.Error("integrity_violation", zap.Error(ierr))
		c.metrics.Recovery("refund_failed")
		return cur, ierr
	}
	c.metrics.Recovery("refunded")
	c.publish(ctx, orders.EventOrderRefunded, cur, "lost claim while captured")
	return cur, apperr.StaleState(o.ID, "order %s moved to %s during checkout; payment refunded", o.ID, cur.Status)
}

// fail moves the order to PAYMENT_FAILED and frees its stock.
func (c *Coordinator) fail(ctx context.Context, o orders.Order, cause error) (orders.Order, error) {
	cctx, cancel := c.detached(ctx)
	defer cancel()

	failed, err := c.store.Transition(cctx, o.ID, orders.StatusPaymentPending, orders.StatusPaymentFailed)
	if err != nil {
		c.logger(ctx).Error("mark_failed", zap.String("order_id", o.ID), zap.Error(err))
		if cur, gerr := c.store.Get(cctx, o.ID); gerr == nil {
			o = cur
		}
		return o, cause
	}
	c.releaseTokens(cctx, failed.ReservationIDs)
	c.publish(cctx, orders.EventOrderPaymentFailed, failed, string(apperr.ReasonOf(cause)))
	return failed, cause
}

// releaseTokens is the compensating release. Failures are logged and left to
// Recover, which releases expired reservations.
func (c *Coordinator) releaseTokens(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	cctx, cancel := c.detached(ctx)
	defer cancel()
	for _, id := range ids {
		if err := c.ledger.Release(cctx, id); err != nil {
			c.logger(ctx).Error("release_failed", zap.String("token_id", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType string, o orders.Order, reason string) {
	if c.events == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	env, err := orders.NewEnvelope(eventType, c.producer, traceID, o, reason)
	if err == nil {
		err = c.events.Publish(ctx, env)
	}
	if err != nil {
		c.logger(ctx).Warn("publish_failed", zap.String("event_type", eventType), zap.String("order_id", o.ID), zap.Error(err))
	}
}
