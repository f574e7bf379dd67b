package coupons

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

const uniqueViolation = "23505"

func (r *Repo) Create(ctx context.Context, c Coupon) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO coupons(code, kind, percent_off, amount_off_cents, min_subtotal_cents, product_ids,
			starts_at, expires_at, usage_limit, used_count, per_user_limit, active, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.Code, c.Kind, c.PercentOff.String(), c.AmountOffCents, c.MinSubtotalCents, nonNil(c.ProductIDs),
		nullTime(c.StartsAt), nullTime(c.ExpiresAt), c.UsageLimit, c.UsedCount, c.PerUserLimit, c.Active, c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Conflict(apperr.ReasonDuplicate, "coupon %s already exists", c.Code)
	}
	if err != nil {
		return fmt.Errorf("coupons: insert %s: %w", c.Code, err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, code string) (Coupon, error) {
	var (
		c         Coupon
		percent   string
		starts    *time.Time
		expires   *time.Time
		productID []string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT code, kind, percent_off::text, amount_off_cents, min_subtotal_cents, product_ids,
			starts_at, expires_at, usage_limit, used_count, per_user_limit, active, created_at
		FROM coupons WHERE code=$1`, code).
		Scan(&c.Code, &c.Kind, &percent, &c.AmountOffCents, &c.MinSubtotalCents, &productID,
			&starts, &expires, &c.UsageLimit, &c.UsedCount, &c.PerUserLimit, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Coupon{}, apperr.Validation(apperr.ReasonCouponNotFound, "coupon not found: %s", code)
	}
	if err != nil {
		return Coupon{}, fmt.Errorf("coupons: get %s: %w", code, err)
	}
	if c.PercentOff, err = decimal.NewFromString(percent); err != nil {
		return Coupon{}, fmt.Errorf("coupons: parse percent_off %q: %w", percent, err)
	}
	if starts != nil {
		c.StartsAt = *starts
	}
	if expires != nil {
		c.ExpiresAt = *expires
	}
	if len(productID) > 0 {
		c.ProductIDs = productID
	}
	return c, nil
}

func (r *Repo) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_redemptions WHERE code=$1 AND user_id=$2`, code, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("coupons: count redemptions: %w", err)
	}
	return n, nil
}

// Redeem locks the coupon row so that concurrent redemptions of one code are
// checked against the limit one at a time.
func (r *Repo) Redeem(ctx context.Context, red Redemption) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("coupons: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var usageLimit, used, perUser int
	err = tx.QueryRow(ctx, `SELECT usage_limit, used_count, per_user_limit FROM coupons WHERE code=$1 FOR UPDATE`, red.Code).
		Scan(&usageLimit, &used, &perUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.Validation(apperr.ReasonCouponNotFound, "coupon not found: %s", red.Code)
	}
	if err != nil {
		return false, fmt.Errorf("coupons: lock %s: %w", red.Code, err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM coupon_redemptions WHERE order_id=$1)`, red.OrderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("coupons: check redemption: %w", err)
	}
	if exists {
		return false, nil
	}
	if usageLimit > 0 && used >= usageLimit {
		return false, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s reached its usage limit", red.Code)
	}
	if perUser > 0 {
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM coupon_redemptions WHERE code=$1 AND user_id=$2`, red.Code, red.UserID).Scan(&n); err != nil {
			return false, fmt.Errorf("coupons: count redemptions: %w", err)
		}
		if n >= perUser {
			return false, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s per-user limit reached", red.Code)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO coupon_redemptions(order_id, code, user_id, discount_cents, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)`, red.OrderID, red.Code, red.UserID, red.DiscountCents, red.RedeemedAt); err != nil {
		return false, fmt.Errorf("coupons: insert redemption: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE code=$1`, red.Code); err != nil {
		return false, fmt.Errorf("coupons: increment %s: %w", red.Code, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("coupons: commit redeem: %w", err)
	}
	return true, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
