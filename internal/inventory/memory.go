package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/google/uuid"
)

// MemoryLedger keeps records and reservations in process. A single mutex
// serialises every mutation, which gives the compare-and-decrement semantics
// the postgres ledger gets from row locks.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
	tokens  map[string]*Token
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		records: make(map[string]*Record),
		tokens:  make(map[string]*Token),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests to age reservations.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) Reserve(ctx context.Context, productID string, qty int) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if qty <= 0 {
		return Token{}, apperr.Validation(apperr.ReasonInvalidInput, "invalid qty %d for product %s", qty, productID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[productID]
	if !ok {
		return Token{}, apperr.Validation(apperr.ReasonUnknownProduct, "product not found: %s", productID)
	}
	if rec.Available < qty {
		return Token{}, apperr.InsufficientStock(productID, qty, rec.Available)
	}
	now := l.now()
	rec.Available -= qty
	rec.Reserved += qty
	rec.UpdatedAt = now

	tok := &Token{
		ID:        uuid.NewString(),
		ProductID: productID,
		Qty:       qty,
		Status:    StatusReserved,
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	l.tokens[tok.ID] = tok
	return *tok, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, tokenID string) error {
	return l.resolve(ctx, tokenID, StatusCommitted)
}

func (l *MemoryLedger) Release(ctx context.Context, tokenID string) error {
	return l.resolve(ctx, tokenID, StatusReleased)
}

func (l *MemoryLedger) resolve(ctx context.Context, tokenID string, to Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tok, ok := l.tokens[tokenID]
	if !ok {
		return apperr.Validation(apperr.ReasonTokenNotFound, "reservation not found: %s", tokenID)
	}
	if done, err := alreadyResolved(tok.ID, tok.Status, to); done {
		return err
	}

	rec := l.records[tok.ProductID]
	rec.Reserved -= tok.Qty
	if to == StatusReleased {
		rec.Available += tok.Qty
	}
	rec.UpdatedAt = l.now()
	tok.Status = to
	return nil
}

// alreadyResolved decides the outcome for a token that is no longer
// RESERVED. done is false when the transition should proceed.
func alreadyResolved(tokenID string, current, to Status) (done bool, err error) {
	switch {
	case current == StatusReserved:
		return false, nil
	case to == StatusReleased:
		return true, nil
	case current == StatusCommitted:
		return true, nil
	default:
		return true, apperr.Conflict(apperr.ReasonStaleState, "reservation %s already %s", tokenID, current)
	}
}

func (l *MemoryLedger) Attach(ctx context.Context, orderID string, tokenIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range tokenIDs {
		tok, ok := l.tokens[id]
		if !ok {
			return apperr.Validation(apperr.ReasonTokenNotFound, "reservation not found: %s", id)
		}
		if tok.Status != StatusReserved || (tok.OrderID != "" && tok.OrderID != orderID) {
			return apperr.Conflict(apperr.ReasonStaleState, "reservation %s cannot be attached to %s", id, orderID)
		}
	}
	for _, id := range tokenIDs {
		l.tokens[id].OrderID = orderID
	}
	return nil
}

func (l *MemoryLedger) Token(ctx context.Context, tokenID string) (Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[tokenID]
	if !ok {
		return Token{}, apperr.Validation(apperr.ReasonTokenNotFound, "reservation not found: %s", tokenID)
	}
	return *tok, nil
}

func (l *MemoryLedger) ByOrder(ctx context.Context, orderID string) ([]Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Token
	for _, tok := range l.tokens {
		if tok.OrderID == orderID {
			out = append(out, *tok)
		}
	}
	sortTokens(out)
	return out, nil
}

func (l *MemoryLedger) Expired(ctx context.Context, now time.Time, limit int) ([]Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Token
	for _, tok := range l.tokens {
		if tok.Status == StatusReserved && tok.ExpiresAt.Before(now) {
			out = append(out, *tok)
		}
	}
	sortTokens(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Record(ctx context.Context, productID string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[productID]
	if !ok {
		return Record{}, apperr.Validation(apperr.ReasonUnknownProduct, "product not found: %s", productID)
	}
	return *rec, nil
}

func (l *MemoryLedger) SetAvailable(ctx context.Context, productID string, available int) (Record, error) {
	if available < 0 {
		return Record{}, apperr.Validation(apperr.ReasonInvalidInput, "available must be >= 0")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[productID]
	if !ok {
		rec = &Record{ProductID: productID}
		l.records[productID] = rec
	}
	rec.Available = available
	rec.UpdatedAt = l.now()
	return *rec, nil
}

func sortTokens(ts []Token) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}
