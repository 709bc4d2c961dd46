package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultPublishTimeout = 5 * time.Second

// AMQPPublisher publishes booking events as JSON to a durable queue.
type AMQPPublisher struct {
	ch      *amqp.Channel
	queue   string
	timeout time.Duration
}

// NewAMQPPublisher declares the queue on ch and returns a publisher for it.
func NewAMQPPublisher(ch *amqp.Channel, queue string) (*AMQPPublisher, error) {
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &AMQPPublisher{ch: ch, queue: q.Name, timeout: DefaultPublishTimeout}, nil
}

func (p *AMQPPublisher) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.ch.PublishWithContext(
		ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         string(event.Type),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}

	return nil
}
