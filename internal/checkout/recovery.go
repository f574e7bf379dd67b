package checkout

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/payment"
	"go.uber.org/zap"
)

// Report counts what one Recover pass did.
type Report struct {
	OrphansReleased int `json:"orphans_released"`
	Cancelled       int `json:"cancelled"`
	Paid            int `json:"paid"`
	Failed          int `json:"failed"`
	Finished        int `json:"finished"`
	Released        int `json:"released"`
	Pending         int `json:"pending"`
}

func (r Report) Empty() bool { return r == Report{} }

// Recover reconciles work a crashed or timed out checkout left behind. It is
// driven by expired reservations and by orders stuck in CREATED or
// PAYMENT_PENDING for longer than StaleAfter. Stuck payments are resolved by
// asking the gateway about every unfinished attempt before anything is
// released or committed.
func (c *Coordinator) Recover(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "checkout.recover")
	defer span.End()

	var (
		rep  Report
		errs []error
	)
	now := c.now()
	log := c.logger(ctx)

	expired, err := c.ledger.Expired(ctx, now, c.batch)
	if err != nil {
		return rep, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, t := range expired {
		if t.OrderID == "" {
			if err := c.ledger.Release(ctx, t.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			rep.OrphansReleased++
			c.metrics.Recovery("release_orphan")
			log.Info("recovery_release_orphan", zap.String("token_id", t.ID), zap.String("product_id", t.ProductID))
			continue
		}
		if !seen[t.OrderID] {
			seen[t.OrderID] = true
			ids = append(ids, t.OrderID)
		}
	}

	stale, err := c.store.Stale(ctx, []orders.Status{orders.StatusCreated, orders.StatusPaymentPending}, now.Add(-c.staleAfter), c.batch)
	if err != nil {
		return rep, err
	}
	for _, o := range stale {
		if !seen[o.ID] {
			seen[o.ID] = true
			ids = append(ids, o.ID)
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := c.reconcile(ctx, id, &rep); err != nil {
			log.Error("recovery_failed", zap.String("order_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if !rep.Empty() {
		log.Info("recovery_done",
			zap.Int("orphans_released", rep.OrphansReleased),
			zap.Int("cancelled", rep.Cancelled),
			zap.Int("paid", rep.Paid),
			zap.Int("failed", rep.Failed),
			zap.Int("finished", rep.Finished),
			zap.Int("released", rep.Released),
			zap.Int("pending", rep.Pending),
		)
	}
	return rep, errors.Join(errs...)
}

func (c *Coordinator) reconcile(ctx context.Context, id string, rep *Report) error {
	o, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch o.Status {
	case orders.StatusCreated:
		cancelled, err := c.store.Transition(ctx, o.ID, orders.StatusCreated, orders.StatusCancelled)
		if apperr.Is(err, apperr.ReasonStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		c.releaseTokens(ctx, cancelled.ReservationIDs)
		c.publish(ctx, orders.EventOrderCancelled, cancelled, "abandoned before payment")
		c.metrics.Recovery("cancel_created")
		rep.Cancelled++
	case orders.StatusPaymentPending:
		return c.reconcilePending(ctx, o, rep)
	case orders.StatusPaid, orders.StatusFulfilling:
		if err := c.finish(ctx, o); err != nil {
			return err
		}
		c.metrics.Recovery("finish_paid")
		rep.Finished++
	case orders.StatusPaymentFailed, orders.StatusCancelled:
		c.releaseTokens(ctx, o.ReservationIDs)
		c.metrics.Recovery("release_unpaid")
		rep.Released++
	}
	return nil
}

// reconcilePending settles a PAYMENT_PENDING order from its attempt log. An
// attempt whose outcome cannot be learned keeps the order pending.
func (c *Coordinator) reconcilePending(ctx context.Context, o orders.Order, rep *Report) error {
	log := c.logger(ctx).With(zap.String("order_id", o.ID))
	attempts, err := c.store.Attempts(ctx, o.ID)
	if err != nil {
		return err
	}

	var (
		captured *payment.Result
		unknown  bool
	)
	for _, a := range attempts {
		switch a.Outcome {
		case orders.OutcomeSucceeded:
			captured = &payment.Result{Status: payment.StatusSucceeded, ProviderRef: a.ProviderRef, AmountCents: a.AmountCents, IdempotencyKey: a.IdempotencyKey}
		case orders.OutcomePending:
			res, found, err := c.gateway.Lookup(ctx, a.IdempotencyKey)
			if err != nil {
				log.Warn("recovery_lookup_failed", zap.Int("attempt", a.Number), zap.Error(err))
				unknown = true
				continue
			}
			if found && res.Status == payment.StatusSucceeded {
				if _, err := c.store.CompleteAttempt(ctx, o.ID, a.Number, orders.OutcomeSucceeded, res.ProviderRef, ""); err != nil {
					return err
				}
				captured = &res
				continue
			}
			reason := string(apperr.ReasonTimeout)
			if found {
				reason = string(apperr.ReasonDeclined)
			}
			if _, err := c.store.CompleteAttempt(ctx, o.ID, a.Number, orders.OutcomeFailed, "", reason); err != nil {
				return err
			}
		}
	}

	switch {
	case captured != nil:
		paid, err := c.store.Transition(ctx, o.ID, orders.StatusPaymentPending, orders.StatusPaid)
		if apperr.Is(err, apperr.ReasonStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("recovery_paid", zap.String("provider_ref", captured.ProviderRef))
		c.publish(ctx, orders.EventOrderPaid, paid, "recovered")
		c.metrics.Recovery("settle_paid")
		rep.Paid++
		return c.finish(ctx, paid)
	case unknown:
		rep.Pending++
		return nil
	default:
		failed, err := c.store.Transition(ctx, o.ID, orders.StatusPaymentPending, orders.StatusPaymentFailed)
		if apperr.Is(err, apperr.ReasonStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		c.releaseTokens(ctx, failed.ReservationIDs)
		log.Info("recovery_failed_payment", zap.Int("attempts", len(attempts)))
		c.publish(ctx, orders.EventOrderPaymentFailed, failed, "no captured attempt")
		c.metrics.Recovery("fail_pending")
		rep.Failed++
		return nil
	}
}
