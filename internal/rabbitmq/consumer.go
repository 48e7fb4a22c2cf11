package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Disposition is the outcome a handler reports for a consumed message.
type Disposition int

const (
	// Ack removes the message from the queue. Business rejections ack too:
	// retrying a deterministic rejection cannot change the outcome.
	Ack Disposition = iota
	// NackRequeue returns the message to the queue for redelivery. Used for
	// infrastructure faults only.
	NackRequeue
	// NackDiscard drops the message (or routes it to a DLQ if configured).
	// Used for payloads that can never be processed, e.g. malformed JSON.
	NackDiscard
)

// Handler processes one delivery body and reports how to settle it.
type Handler func(ctx context.Context, body []byte) Disposition

const handlerTimeout = 30 * time.Second

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewConsumer(url, queue string) (*Consumer, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Consume delivers messages to handler one at a time and settles each message
// according to the returned disposition. Acknowledgment always happens after
// the handler returns, never speculatively.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			c.settle(ctx, d, handler)
		}
	}
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, handler Handler) {
	msgCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	switch handler(msgCtx, d.Body) {
	case NackRequeue:
		_ = d.Nack(false, true)
	case NackDiscard:
		_ = d.Nack(false, false)
	default:
		_ = d.Ack(false)
	}
}
