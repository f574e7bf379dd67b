// Package events publishes order lifecycle envelopes to kafka.
package events

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-checkout-core/internal/kafka"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// Emitter keys every event by order id so one order's events stay ordered
// within a partition.
type Emitter struct {
	p publisher
}

func NewEmitter(p *kafkax.Producer) *Emitter {
	return &Emitter{p: p}
}

func (e *Emitter) Publish(ctx context.Context, env orders.Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	return e.p.Publish(ctx, orders.PartitionKey(env.CorrelationID), b,
		kafkago.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafkago.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
