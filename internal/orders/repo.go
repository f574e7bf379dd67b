package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const (
	orderColumns = `id, user_id, items, COALESCE(coupon_code, ''), subtotal_cents, discount_cents,
		total_cents, currency, status, COALESCE(provider_ref, ''), created_at, updated_at`
	attemptColumns = `order_id, attempt_no, idempotency_key, amount_cents, outcome,
		COALESCE(provider_ref, ''), COALESCE(error_reason, ''), created_at, updated_at`
	uniqueViolation = "23505"
)

// Create inserts the order and claims its reservations in one transaction,
// so a crash after this point always leaves the reservations findable by
// order id.
func (r *Repo) Create(ctx context.Context, n NewOrder) (Order, error) {
	o, err := build(n, time.Now().UTC())
	if err != nil {
		return Order{}, err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return Order{}, fmt.Errorf("orders: encode items: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, items, coupon_code, subtotal_cents, discount_cents, total_cents,
			currency, status, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $10)`,
		o.ID, o.UserID, string(items), o.CouponCode, o.SubtotalCents, o.DiscountCents, o.TotalCents,
		o.Currency, o.Status, o.CreatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("orders: insert: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE inventory_reservations SET order_id = $1, updated_at = now()
		WHERE id = ANY($2) AND status = 'RESERVED' AND (order_id IS NULL OR order_id = $1)`,
		o.ID, o.ReservationIDs)
	if err != nil {
		return Order{}, fmt.Errorf("orders: attach reservations: %w", err)
	}
	if int(ct.RowsAffected()) != len(o.ReservationIDs) {
		return Order{}, apperr.StaleState(o.ID, "only %d of %d reservations could be attached", ct.RowsAffected(), len(o.ReservationIDs))
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("orders: commit create: %w", err)
	}
	return o, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, notFound(id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: get %s: %w", id, err)
	}
	if err := r.loadReservations(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) loadReservations(ctx context.Context, o *Order) error {
	rows, err := r.DB.Query(ctx, `SELECT id FROM inventory_reservations WHERE order_id=$1 ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("orders: reservations of %s: %w", o.ID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("orders: reservations of %s: %w", o.ID, err)
	}
	o.ReservationIDs = ids
	return nil
}

func (r *Repo) Transition(ctx context.Context, id string, from, to Status) (Order, error) {
	if !CanTransition(from, to) {
		return Order{}, badTransition(id, from, to)
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING `+orderColumns, id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return Order{}, gerr
		}
		return Order{}, apperr.StaleState(id, "order %s is %s, expected %s", id, cur.Status, from)
	}
	if err != nil {
		return Order{}, fmt.Errorf("orders: transition %s: %w", id, err)
	}
	if err := r.loadReservations(ctx, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) AppendAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	out, err := scanAttempt(r.DB.QueryRow(ctx, `
		INSERT INTO order_payment_attempts(order_id, attempt_no, idempotency_key, amount_cents, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now())
		RETURNING `+attemptColumns, a.OrderID, a.Number, a.IdempotencyKey, a.AmountCents))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return Attempt{}, apperr.Conflict(apperr.ReasonDuplicate, "attempt %d of order %s already recorded", a.Number, a.OrderID)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("orders: append attempt: %w", err)
	}
	return out, nil
}

func (r *Repo) CompleteAttempt(ctx context.Context, orderID string, number int, outcome Outcome, providerRef, reason string) (Attempt, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Attempt{}, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanAttempt(tx.QueryRow(ctx, `SELECT `+attemptColumns+`
		FROM order_payment_attempts WHERE order_id=$1 AND attempt_no=$2 FOR UPDATE`, orderID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Attempt{}, apperr.Validation(apperr.ReasonInvalidInput, "attempt %d of order %s not found", number, orderID)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("orders: lock attempt: %w", err)
	}
	if cur.Outcome != OutcomePending {
		if cur.Outcome == outcome {
			return cur, nil
		}
		return Attempt{}, apperr.StaleState(orderID, "attempt %d already %s", number, cur.Outcome)
	}

	out, err := scanAttempt(tx.QueryRow(ctx, `
		UPDATE order_payment_attempts
		SET outcome=$3, provider_ref=NULLIF($4, ''), error_reason=NULLIF($5, ''), updated_at=now()
		WHERE order_id=$1 AND attempt_no=$2
		RETURNING `+attemptColumns, orderID, number, outcome, providerRef, reason))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return Attempt{}, apperr.Integrity(orderID, err, "second succeeded attempt %d", number)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("orders: complete attempt: %w", err)
	}
	if outcome == OutcomeSucceeded {
		if _, err := tx.Exec(ctx, `UPDATE orders SET provider_ref=$2, updated_at=now() WHERE id=$1`, orderID, providerRef); err != nil {
			return Attempt{}, fmt.Errorf("orders: set provider ref: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Attempt{}, fmt.Errorf("orders: commit attempt: %w", err)
	}
	return out, nil
}

func (r *Repo) Attempts(ctx context.Context, orderID string) ([]Attempt, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+attemptColumns+` FROM order_payment_attempts
		WHERE order_id=$1 ORDER BY attempt_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) Stale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at LIMIT $3`, names, before, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: stale: %w", err)
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadReservations(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o     Order
		items []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &o.CouponCode, &o.SubtotalCents, &o.DiscountCents,
		&o.TotalCents, &o.Currency, &o.Status, &o.ProviderRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("orders: decode items of %s: %w", o.ID, err)
	}
	return o, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var a Attempt
	err := row.Scan(&a.OrderID, &a.Number, &a.IdempotencyKey, &a.AmountCents, &a.Outcome,
		&a.ProviderRef, &a.ErrorReason, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
