package projector

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "projector", nil)
}

func message(t *testing.T, eventType string, status orders.Status, at time.Time) (orders.Envelope, kafkago.Message) {
	t.Helper()
	env, err := orders.NewEnvelope(eventType, "test", "", orders.Order{ID: "o1", Status: status}, "")
	require.NoError(t, err)
	env.OccurredAt = at
	b, err := env.Encode()
	require.NoError(t, err)
	return env, kafkago.Message{Value: b}
}

func TestHandle_ProjectsLatestStatus(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, created := message(t, orders.EventOrderCreated, orders.StatusCreated, t0)
	_, paid := message(t, orders.EventOrderPaid, orders.StatusPaid, t0.Add(time.Second))

	require.NoError(t, s.Handle(ctx, paid))
	require.NoError(t, s.Handle(ctx, created))

	got, ok, err := s.Cache.Get(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "PAID", got.Status)
}

func TestHandle_DuplicateEventIsIgnored(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	env, paid := message(t, orders.EventOrderPaid, orders.StatusPaid, t0)
	require.NoError(t, s.Handle(ctx, paid))

	// replace the cached value; a redelivery must not overwrite it
	require.NoError(t, s.Cache.Set(ctx, redisxStatus("o1", "FULFILLING", t0.Add(-time.Hour))))
	b, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, s.Handle(ctx, kafkago.Message{Value: b}))

	got, _, err := s.Cache.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "FULFILLING", got.Status)
}

func TestHandle_SkipsGarbage(t *testing.T) {
	s := newService(t)
	assert.NoError(t, s.Handle(context.Background(), kafkago.Message{Value: []byte("not json")}))

	_, m := message(t, "SomethingElse", orders.StatusPaid, time.Now())
	assert.NoError(t, s.Handle(context.Background(), m))
	_, ok, err := s.Cache.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func redisxStatus(id, status string, at time.Time) redisx.OrderStatus {
	return redisx.OrderStatus{OrderID: id, Status: status, UpdatedAt: at}
}
