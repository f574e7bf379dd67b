package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
)

// MemoryRepo keeps orders in process. Reservations are bound through the
// ledger's Attacher before the order becomes visible.
type MemoryRepo struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	attempts map[string][]Attempt
	ledger   inventory.Attacher
	now      func() time.Time
}

func NewMemoryRepo(ledger inventory.Attacher) *MemoryRepo {
	return &MemoryRepo{
		orders:   make(map[string]*Order),
		attempts: make(map[string][]Attempt),
		ledger:   ledger,
		now:      time.Now,
	}
}

func (r *MemoryRepo) WithClock(now func() time.Time) *MemoryRepo {
	r.now = now
	return r
}

func (r *MemoryRepo) Create(ctx context.Context, n NewOrder) (Order, error) {
	o, err := build(n, r.now().UTC())
	if err != nil {
		return Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ledger != nil {
		if err := r.ledger.Attach(ctx, o.ID, o.ReservationIDs); err != nil {
			return Order{}, err
		}
	}
	r.orders[o.ID] = &o
	return clone(o), nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, notFound(id)
	}
	return clone(*o), nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, from, to Status) (Order, error) {
	if !CanTransition(from, to) {
		return Order{}, badTransition(id, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, notFound(id)
	}
	if o.Status != from {
		return Order{}, apperr.StaleState(id, "order %s is %s, expected %s", id, o.Status, from)
	}
	o.Status = to
	o.UpdatedAt = r.now().UTC()
	return clone(*o), nil
}

func (r *MemoryRepo) AppendAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[a.OrderID]; !ok {
		return Attempt{}, notFound(a.OrderID)
	}
	for _, x := range r.attempts[a.OrderID] {
		if x.Number == a.Number || x.IdempotencyKey == a.IdempotencyKey {
			return Attempt{}, apperr.Conflict(apperr.ReasonDuplicate, "attempt %d of order %s already recorded", a.Number, a.OrderID)
		}
	}
	now := r.now().UTC()
	a.Outcome = OutcomePending
	a.CreatedAt, a.UpdatedAt = now, now
	r.attempts[a.OrderID] = append(r.attempts[a.OrderID], a)
	return a, nil
}

func (r *MemoryRepo) CompleteAttempt(ctx context.Context, orderID string, number int, outcome Outcome, providerRef, reason string) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.attempts[orderID]
	idx := -1
	for i := range list {
		if list[i].Number == number {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Attempt{}, apperr.Validation(apperr.ReasonInvalidInput, "attempt %d of order %s not found", number, orderID)
	}
	a := &list[idx]
	if a.Outcome != OutcomePending {
		if a.Outcome == outcome {
			return *a, nil
		}
		return Attempt{}, apperr.StaleState(orderID, "attempt %d already %s", number, a.Outcome)
	}
	if outcome == OutcomeSucceeded {
		for _, x := range list {
			if x.Outcome == OutcomeSucceeded {
				return Attempt{}, apperr.Integrity(orderID, nil, "attempt %d succeeded after attempt %d", number, x.Number)
			}
		}
		if o, ok := r.orders[orderID]; ok {
			o.ProviderRef = providerRef
		}
	}
	a.Outcome = outcome
	a.ProviderRef = providerRef
	a.ErrorReason = reason
	a.UpdatedAt = r.now().UTC()
	return *a, nil
}

func (r *MemoryRepo) Attempts(ctx context.Context, orderID string) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Attempt(nil), r.attempts[orderID]...), nil
}

func (r *MemoryRepo) Stale(ctx context.Context, statuses []Status, before time.Time, limit int) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Order
	for _, o := range r.orders {
		if want[o.Status] && o.UpdatedAt.Before(before) {
			out = append(out, clone(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(o Order) Order {
	o.Items = append([]cart.Line(nil), o.Items...)
	o.ReservationIDs = append([]string(nil), o.ReservationIDs...)
	return o
}
