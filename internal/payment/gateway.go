// Package payment wraps the external payment provider behind an idempotent
// capture/refund contract.
package payment

import (
	"context"
	"fmt"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type CaptureRequest struct {
	OrderID        string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	PaymentMethod  string
}

type Result struct {
	Status         Status `json:"status"`
	ProviderRef    string `json:"provider_ref"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type RefundRequest struct {
	OrderID        string
	ProviderRef    string
	AmountCents    int64
	IdempotencyKey string
}

// Gateway is implemented by providers and by the Adapter that guards them.
// Capture fails with a provider error whose reason is DECLINED,
// PROVIDER_UNAVAILABLE or TIMEOUT; Refund with ALREADY_REFUNDED or
// PROVIDER_UNAVAILABLE.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) error
	// Lookup reports the outcome of an earlier capture by idempotency key.
	// found is false when the provider never saw the key.
	Lookup(ctx context.Context, idempotencyKey string) (res Result, found bool, err error)
}

// IdempotencyKey is the stable capture key of one payment attempt.
func IdempotencyKey(orderID string, attempt int) string {
	return fmt.Sprintf("order:%s:attempt:%d", orderID, attempt)
}

func RefundKey(orderID, providerRef string) string {
	return fmt.Sprintf("order:%s:refund:%s", orderID, providerRef)
}
