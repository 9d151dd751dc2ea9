package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrBrokerClosed = errors.New("dispatch: broker closed")

// MemoryBroker is an in-process Broker. Messages do not survive a restart.
type MemoryBroker struct {
	ch      chan Delivery
	delayed atomic.Int64

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryBroker{
		ch:     make(chan Delivery, capacity),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, env Envelope, delay time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	if delay > 0 {
		b.delayed.Add(1)
		var t *time.Timer
		t = time.AfterFunc(delay, func() {
			b.mu.Lock()
			delete(b.timers, t)
			b.mu.Unlock()
			b.delayed.Add(-1)
			_ = b.push(context.Background(), env)
		})
		b.timers[t] = struct{}{}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.push(ctx, env)
}

func (b *MemoryBroker) push(ctx context.Context, env Envelope) error {
	d := Delivery{Envelope: env}
	d.ack = func() error { return nil }
	d.nack = func(requeue bool) error {
		if !requeue {
			return nil
		}
		return b.push(context.Background(), env)
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	select {
	case b.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(context.Context) (<-chan Delivery, error) {
	return b.ch, nil
}

// Depth counts ready and delayed messages.
func (b *MemoryBroker) Depth(context.Context) (int, error) {
	return len(b.ch) + int(b.delayed.Load()), nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for t := range b.timers {
		if t.Stop() {
			b.delayed.Add(-1)
		}
	}
	b.timers = nil
	return nil
}
