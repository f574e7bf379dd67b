// Package projector consumes order lifecycle events and keeps the redis
// status cache that serves GET /orders/{id}/status.
package projector

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Service struct {
	Redis       redis.UniversalClient
	Cache       *redisx.StatusCache
	ServiceName string
	Log         *zap.Logger
}

func New(rdb redis.UniversalClient, serviceName string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Redis: rdb, Cache: redisx.NewStatusCache(rdb), ServiceName: serviceName, Log: log}
}

// Handle is the consumer handler for the order lifecycle topic.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := orders.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message; committing it is the only way forward
		s.Log.Error("projector_bad_envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !lifecycle[env.EventType] {
		return nil
	}

	first, err := redisx.MarkProcessed(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	p, err := env.Lifecycle()
	if err != nil {
		s.Log.Error("projector_bad_payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if _, err := s.Cache.SetIfNewer(ctx, redisx.OrderStatus{
		OrderID:   p.OrderID,
		Status:    string(p.Status),
		UpdatedAt: env.OccurredAt,
	}); err != nil {
		_ = redisx.Unmark(ctx, s.Redis, s.ServiceName, env.EventID)
		return fmt.Errorf("cache status %s: %w", p.OrderID, err)
	}
	s.Log.Debug("projected", zap.String("order_id", p.OrderID), zap.String("event_type", env.EventType),
		zap.String("status", string(p.Status)), zap.String("trace_id", env.TraceID))
	return nil
}

var lifecycle = map[string]bool{
	orders.EventOrderCreated:       true,
	orders.EventOrderPaid:          true,
	orders.EventOrderPaymentFailed: true,
	orders.EventOrderCancelled:     true,
	orders.EventOrderFulfilled:     true,
	orders.EventOrderRefunded:      true,
}
