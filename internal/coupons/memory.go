package coupons

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
)

type MemoryRepo struct {
	mu          sync.Mutex
	coupons     map[string]*Coupon
	redemptions map[string]Redemption // by order id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		coupons:     make(map[string]*Coupon),
		redemptions: make(map[string]Redemption),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[c.Code]; ok {
		return apperr.Conflict(apperr.ReasonDuplicate, "coupon %s already exists", c.Code)
	}
	c.ProductIDs = append([]string(nil), c.ProductIDs...)
	r.coupons[c.Code] = &c
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, code string) (Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return Coupon{}, apperr.Validation(apperr.ReasonCouponNotFound, "coupon not found: %s", code)
	}
	out := *c
	out.ProductIDs = append([]string(nil), c.ProductIDs...)
	return out, nil
}

func (r *MemoryRepo) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countUser(code, userID), nil
}

func (r *MemoryRepo) countUser(code, userID string) int {
	n := 0
	for _, red := range r.redemptions {
		if red.Code == code && red.UserID == userID {
			n++
		}
	}
	return n
}

func (r *MemoryRepo) Redeem(ctx context.Context, red Redemption) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.coupons[red.Code]
	if !ok {
		return false, apperr.Validation(apperr.ReasonCouponNotFound, "coupon not found: %s", red.Code)
	}
	if _, done := r.redemptions[red.OrderID]; done {
		return false, nil
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s reached its usage limit", c.Code)
	}
	if c.PerUserLimit > 0 && r.countUser(c.Code, red.UserID) >= c.PerUserLimit {
		return false, apperr.Validation(apperr.ReasonUsageLimitExceeded, "coupon %s per-user limit reached", c.Code)
	}
	r.redemptions[red.OrderID] = red
	c.UsedCount++
	return true, nil
}
