package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitBroker keeps jobs in a durable RabbitMQ queue. Delayed publishes go
// to a per-delay retry queue whose messages expire after the delay and are
// dead-lettered back onto the main queue.
type RabbitBroker struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	subCh    *amqp.Channel
	queue    string
	prefetch int
	logger   *zap.Logger

	mu          sync.Mutex
	retryQueues map[time.Duration]string
}

// NewRabbitBroker dials url and declares the main queue.
func NewRabbitBroker(url, queue string, prefetch int, logger *zap.Logger) (*RabbitBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefetch <= 0 {
		prefetch = 16
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	subCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := pubCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	if err := subCh.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return &RabbitBroker{
		conn:        conn,
		pubCh:       pubCh,
		subCh:       subCh,
		queue:       queue,
		prefetch:    prefetch,
		logger:      logger,
		retryQueues: make(map[time.Duration]string),
	}, nil
}

// RetryQueueName is the name of the delay queue feeding back into queue.
func RetryQueueName(queue string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%d", queue, delay.Milliseconds())
}

func (b *RabbitBroker) retryQueue(delay time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name, ok := b.retryQueues[delay]; ok {
		return name, nil
	}
	name := RetryQueueName(b.queue, delay)
	_, err := b.pubCh.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": b.queue,
	})
	if err != nil {
		return "", fmt.Errorf("failed to declare retry queue %s: %w", name, err)
	}
	b.retryQueues[delay] = name
	return name, nil
}

func (b *RabbitBroker) Publish(ctx context.Context, env Envelope, delay time.Duration) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	key := b.queue
	if delay > 0 {
		if key, err = b.retryQueue(delay); err != nil {
			return err
		}
	}

	err = b.pubCh.PublishWithContext(ctx,
		"",    // exchange
		key,   // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.Job.JobID.String(),
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"x-attempt": int32(env.Attempt)},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", key, err)
	}
	return nil
}

// Consume starts a consumer on the main queue. The returned channel closes
// when ctx ends or the server closes the delivery stream.
func (b *RabbitBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := b.subCh.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", b.queue, err)
	}
	b.logger.Info("dispatch.rabbit.consuming", zap.String("queue", b.queue), zap.Int("prefetch", b.prefetch))

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					b.logger.Warn("dispatch.rabbit.delivery_channel_closed", zap.String("queue", b.queue))
					return
				}
				var env Envelope
				if err := json.Unmarshal(msg.Body, &env); err != nil {
					b.logger.Error("dispatch.rabbit.malformed_message",
						zap.String("message_id", msg.MessageId),
						zap.Error(err))
					_ = msg.Nack(false, false)
					continue
				}
				d := Delivery{
					Envelope: env,
					ack:      func() error { return msg.Ack(false) },
					nack:     func(requeue bool) error { return msg.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Depth reports ready messages on the main queue.
func (b *RabbitBroker) Depth(context.Context) (int, error) {
	q, err := b.pubCh.QueueDeclarePassive(b.queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", b.queue, err)
	}
	return q.Messages, nil
}

func (b *RabbitBroker) HealthCheck(context.Context) error {
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (b *RabbitBroker) Close() error {
	if b.subCh != nil {
		_ = b.subCh.Close()
	}
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
