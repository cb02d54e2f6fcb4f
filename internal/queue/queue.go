// Package queue defines the durable event queue contract that decouples
// ingestion from the graph writer. Delivery is at-least-once: a message is
// redelivered until some consumer acknowledges it.
package queue

import (
	"context"
	"encoding/json"

	"github.com/artello/eventflow/internal/domain"
)

// Receipt is returned to the producer on a successful enqueue. The producer
// replies to its caller as soon as it holds a receipt, without waiting for
// persistence into the graph.
type Receipt struct {
	MessageID string
}

// Publisher is the producer side of the queue.
type Publisher interface {
	Enqueue(ctx context.Context, ev *domain.Event) (Receipt, error)
}

// Consumer is the consuming side. Consume returns a channel of deliveries
// that stays open until ctx is canceled and survives process restarts:
// unacknowledged messages reappear on the next Consume.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Queue is a durable queue usable from both ends of the pipeline.
type Queue interface {
	Publisher
	Consumer
	Close() error
}

// Delivery is one message handed to a consumer. Exactly one of Ack or Nack
// must be called. Event is nil when the stored body did not decode; Body
// always carries the original bytes.
type Delivery struct {
	Event *domain.Event
	Body  []byte

	ack  func() error
	nack func() error
}

// NewDelivery builds a Delivery around implementation-provided settle hooks.
func NewDelivery(body []byte, ack, nack func() error) Delivery {
	d := Delivery{Body: body, ack: ack, nack: nack}
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err == nil {
		d.Event = &ev
	}
	return d
}

// Ack removes the message from the queue. Call only after the graph write
// succeeded (or was absorbed as a duplicate).
func (d Delivery) Ack() error { return d.ack() }

// Nack returns the message to the queue for redelivery.
func (d Delivery) Nack() error { return d.nack() }
