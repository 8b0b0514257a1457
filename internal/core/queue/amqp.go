package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// AmqpQueue is the broker-backed TaskQueue. Messages are published
// persistent to a durable queue and consumed with manual acks, so anything
// unacked when a worker dies is redelivered by the broker.
type AmqpQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	name       string
	deliveries <-chan amqp.Delivery
}

var _ core.TaskQueue = (*AmqpQueue)(nil)

// NewAmqpQueue connects, declares the durable queue and starts a consumer
// with prefetch sized to the worker pool.
func NewAmqpQueue(url, name string, prefetch int) (*AmqpQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	return &AmqpQueue{conn: conn, ch: ch, name: name, deliveries: deliveries}, nil
}

func (q *AmqpQueue) Enqueue(ctx context.Context, job models.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (q *AmqpQueue) Claim(ctx context.Context) (*core.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		var job models.IngestionJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Poison message: drop it rather than spin on redelivery.
			_ = d.Nack(false, false)
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		return &core.Delivery{
			Job: job,
			Ack: func() error { return d.Ack(false) },
			Nack: func(delay time.Duration) error {
				if delay <= 0 {
					return d.Nack(false, true)
				}
				time.AfterFunc(delay, func() { _ = d.Nack(false, true) })
				return nil
			},
		}, nil
	}
}

func (q *AmqpQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
