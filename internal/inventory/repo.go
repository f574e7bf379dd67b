package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the postgres ledger. Stock rows are locked with FOR UPDATE so that
// concurrent reservations of one product serialise on the row.
type Repo struct {
	DB  *pgxpool.Pool
	TTL time.Duration
}

const tokenColumns = `id, product_id, qty, COALESCE(order_id, ''), status, expires_at, created_at`

func (r *Repo) ttl() time.Duration {
	if r.TTL <= 0 {
		return DefaultTTL
	}
	return r.TTL
}

func (r *Repo) Reserve(ctx context.Context, productID string, qty int) (Token, error) {
	if qty <= 0 {
		return Token{}, apperr.Validation(apperr.ReasonInvalidInput, "invalid qty %d for product %s", qty, productID)
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Token{}, fmt.Errorf("inventory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var available int
	err = tx.QueryRow(ctx, `SELECT available FROM inventory_records WHERE product_id=$1 FOR UPDATE`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, apperr.Validation(apperr.ReasonUnknownProduct, "product not found: %s", productID)
	}
	if err != nil {
		return Token{}, fmt.Errorf("inventory: lock %s: %w", productID, err)
	}
	if available < qty {
		return Token{}, apperr.InsufficientStock(productID, qty, available)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory_records
		SET available = available - $2, reserved = reserved + $2, updated_at = now()
		WHERE product_id = $1`, productID, qty); err != nil {
		return Token{}, fmt.Errorf("inventory: decrement %s: %w", productID, err)
	}

	now := time.Now().UTC()
	tok := Token{
		ID:        uuid.NewString(),
		ProductID: productID,
		Qty:       qty,
		Status:    StatusReserved,
		ExpiresAt: now.Add(r.ttl()),
		CreatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_reservations(id, product_id, qty, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'RESERVED', $4, $5, $5)`,
		tok.ID, tok.ProductID, tok.Qty, tok.ExpiresAt, tok.CreatedAt); err != nil {
		return Token{}, fmt.Errorf("inventory: insert reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Token{}, fmt.Errorf("inventory: commit reserve: %w", err)
	}
	return tok, nil
}

func (r *Repo) Commit(ctx context.Context, tokenID string) error {
	return r.resolve(ctx, tokenID, StatusCommitted)
}

func (r *Repo) Release(ctx context.Context, tokenID string) error {
	return r.resolve(ctx, tokenID, StatusReleased)
}

func (r *Repo) resolve(ctx context.Context, tokenID string, to Status) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("inventory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		productID string
		qty       int
		status    Status
	)
	err = tx.QueryRow(ctx, `SELECT product_id, qty, status FROM inventory_reservations WHERE id=$1 FOR UPDATE`, tokenID).
		Scan(&productID, &qty, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Validation(apperr.ReasonTokenNotFound, "reservation not found: %s", tokenID)
	}
	if err != nil {
		return fmt.Errorf("inventory: lock reservation %s: %w", tokenID, err)
	}
	if done, err := alreadyResolved(tokenID, status, to); done {
		return err
	}

	restore := 0
	if to == StatusReleased {
		restore = qty
	}
	if _, err := tx.Exec(ctx, `
		UPDATE inventory_records
		SET reserved = reserved - $2, available = available + $3, updated_at = now()
		WHERE product_id = $1`, productID, qty, restore); err != nil {
		return fmt.Errorf("inventory: adjust %s: %w", productID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE inventory_reservations SET status=$2, updated_at=now() WHERE id=$1`, tokenID, to); err != nil {
		return fmt.Errorf("inventory: mark %s %s: %w", tokenID, to, err)
	}
	return tx.Commit(ctx)
}

func (r *Repo) Token(ctx context.Context, tokenID string) (Token, error) {
	tok, err := scanToken(r.DB.QueryRow(ctx, `SELECT `+tokenColumns+` FROM inventory_reservations WHERE id=$1`, tokenID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, apperr.Validation(apperr.ReasonTokenNotFound, "reservation not found: %s", tokenID)
	}
	return tok, err
}

func (r *Repo) ByOrder(ctx context.Context, orderID string) ([]Token, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+tokenColumns+` FROM inventory_reservations
		WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("inventory: by order: %w", err)
	}
	return collectTokens(rows)
}

func (r *Repo) Expired(ctx context.Context, now time.Time, limit int) ([]Token, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `SELECT `+tokenColumns+` FROM inventory_reservations
		WHERE status='RESERVED' AND expires_at < $1
		ORDER BY created_at, id LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: expired: %w", err)
	}
	return collectTokens(rows)
}

func (r *Repo) Record(ctx context.Context, productID string) (Record, error) {
	var rec Record
	err := r.DB.QueryRow(ctx, `SELECT product_id, available, reserved, updated_at
		FROM inventory_records WHERE product_id=$1`, productID).
		Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, apperr.Validation(apperr.ReasonUnknownProduct, "product not found: %s", productID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("inventory: record %s: %w", productID, err)
	}
	return rec, nil
}

func (r *Repo) SetAvailable(ctx context.Context, productID string, available int) (Record, error) {
	if available < 0 {
		return Record{}, apperr.Validation(apperr.ReasonInvalidInput, "available must be >= 0")
	}
	var rec Record
	err := r.DB.QueryRow(ctx, `
		INSERT INTO inventory_records(product_id, available, reserved, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = now()
		RETURNING product_id, available, reserved, updated_at`, productID, available).
		Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("inventory: set available %s: %w", productID, err)
	}
	return rec, nil
}

func scanToken(row pgx.Row) (Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.ProductID, &t.Qty, &t.OrderID, &t.Status, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

func collectTokens(rows pgx.Rows) ([]Token, error) {
	defer rows.Close()
	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
