package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const inFlight = "in_flight"

// Response is a finished request kept for replay.
type Response struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// Idempotency lets a client retry a request with the same key and get the
// first response back instead of running the request twice.
type Idempotency struct {
	rdb      redis.UniversalClient
	ttl      time.Duration
	inFlight time.Duration
}

func NewIdempotency(rdb redis.UniversalClient) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: TTLIdempotency, inFlight: TTLInFlight}
}

// Claim reserves key for this request. A stored response is returned for
// replay; a key held by a running request is a REQUEST_IN_FLIGHT conflict.
func (i *Idempotency) Claim(ctx context.Context, userID, key string) (*Response, error) {
	k := fmt.Sprintf(KeyIdemCheckout, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, inFlight, i.inFlight).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency claim: %w", err)
	}
	if ok {
		return nil, nil
	}
	raw, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Claim(ctx, userID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get: %w", err)
	}
	if raw == inFlight {
		return nil, apperr.Conflict(apperr.ReasonRequestInFlight, "request with idempotency key %q is still running", key)
	}
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &resp, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID, key string, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key), b, i.ttl).Err()
}

// Abandon frees key so that a retry runs the request again.
func (i *Idempotency) Abandon(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key)).Err()
}
