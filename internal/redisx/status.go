package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps the latest known status of an order for fast reads.
type StatusCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStatusCache(rdb redis.UniversalClient) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (OrderStatus, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return OrderStatus{}, false, nil
	}
	if err != nil {
		return OrderStatus{}, false, err
	}
	var s OrderStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return OrderStatus{}, false, err
	}
	return s, true, nil
}

func (c *StatusCache) Set(ctx context.Context, s OrderStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, s.OrderID), b, c.ttl).Err()
}

// SetIfNewer stores s unless the cache already holds a later update. Events
// may arrive out of order across partitions after a rebalance.
func (c *StatusCache) SetIfNewer(ctx context.Context, s OrderStatus) (bool, error) {
	cur, ok, err := c.Get(ctx, s.OrderID)
	if err != nil {
		return false, err
	}
	if ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return false, nil
	}
	return true, c.Set(ctx, s)
}

// MarkProcessed records that service handled id. It reports false when id
// was already recorded.
func MarkProcessed(ctx context.Context, rdb redis.UniversalClient, service, id string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Unmark undoes MarkProcessed so a failed handler can be retried.
func Unmark(ctx context.Context, rdb redis.UniversalClient, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
