package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderFulfilled     = "OrderFulfilled"
	EventOrderRefunded      = "OrderRefunded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// LifecyclePayload is shared by every order lifecycle event.
type LifecyclePayload struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	Status        Status `json:"status"`
	TotalCents    int64  `json:"total_cents"`
	DiscountCents int64  `json:"discount_cents"`
	CouponCode    string `json:"coupon_code,omitempty"`
	ProviderRef   string `json:"provider_ref,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func NewEnvelope(eventType, producer, traceID string, o Order, reason string) (Envelope, error) {
	payload, err := json.Marshal(LifecyclePayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		TotalCents:    o.TotalCents,
		DiscountCents: o.DiscountCents,
		CouponCode:    o.CouponCode,
		ProviderRef:   o.ProviderRef,
		Reason:        reason,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: o.ID,
		Payload:       payload,
	}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.EventID, err)
	}
	return b, nil
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Lifecycle decodes the payload of an order lifecycle event.
func (e Envelope) Lifecycle() (LifecyclePayload, error) {
	var p LifecyclePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return p, nil
}
