package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{user_id}:{Idempotency-Key} -> stored response
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Single recovery sweep across worker replicas
	KeyLockRecoverySweep = "lock:recovery-sweep"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLInFlight    = time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
