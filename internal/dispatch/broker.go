package dispatch

import (
	"context"
	"time"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

// Envelope is the durable message for one delivery attempt of a job.
type Envelope struct {
	Job        model.CopyTradeJob `json:"job"`
	Attempt    int                `json:"attempt"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}

// Delivery is one received envelope. Exactly one of Ack or Nack must be
// called once the consumer is done with it.
type Delivery struct {
	Envelope Envelope

	ack  func() error
	nack func(requeue bool) error
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Broker is a durable, at-least-once message transport. Publish with a
// positive delay makes the envelope visible to consumers only after delay.
type Broker interface {
	Publish(ctx context.Context, env Envelope, delay time.Duration) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Depth(ctx context.Context) (int, error)
	Close() error
}
