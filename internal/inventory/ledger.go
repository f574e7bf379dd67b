// Package inventory is the stock ledger: per-product available/reserved
// counters and the reservations that move units between them.
package inventory

import (
	"context"
	"time"
)

type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusCommitted Status = "COMMITTED"
	StatusReleased  Status = "RELEASED"
)

// DefaultTTL is how long a reservation may stay unresolved before the
// recovery sweep picks it up.
const DefaultTTL = 15 * time.Minute

// Token is a reservation handle. It is owned by exactly one in-flight order
// once OrderID is set.
type Token struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t Token) Unresolved() bool { return t.Status == StatusReserved }

type Record struct {
	ProductID string    `json:"product_id"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Ledger interface {
	// Reserve atomically moves qty units from available to reserved.
	Reserve(ctx context.Context, productID string, qty int) (Token, error)
	// Commit makes a reservation permanent. Committing twice is a no-op;
	// committing a released token is a stale-state conflict.
	Commit(ctx context.Context, tokenID string) error
	// Release returns reserved units to available. Releasing a released or
	// committed token is a no-op.
	Release(ctx context.Context, tokenID string) error

	Token(ctx context.Context, tokenID string) (Token, error)
	ByOrder(ctx context.Context, orderID string) ([]Token, error)
	// Expired lists unresolved reservations whose expiry is before now,
	// oldest first.
	Expired(ctx context.Context, now time.Time, limit int) ([]Token, error)

	Record(ctx context.Context, productID string) (Record, error)
	SetAvailable(ctx context.Context, productID string, available int) (Record, error)
}

// Attacher binds unresolved, unowned reservations to an order. Order stores
// that cannot share a transaction with the ledger call it while creating the
// order.
type Attacher interface {
	Attach(ctx context.Context, orderID string, tokenIDs []string) error
}
