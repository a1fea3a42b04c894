package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitPublisher pushes change events onto a durable RabbitMQ queue.
type rabbitPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func newRabbitMQ(cfg Config) (*rabbitPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("events: rabbitmq url is required")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("events: rabbitmq queue is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: rabbitmq dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: rabbitmq channel: %w", err)
	}

	// Declaring is idempotent; parameters must match an existing queue.
	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("events: rabbitmq declare queue: %w", err)
	}

	return &rabbitPublisher{conn: conn, channel: channel, queue: cfg.Queue}, nil
}

func (p *rabbitPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         ev.Type,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("events: rabbitmq publish: %w", err)
	}
	return nil
}

func (p *rabbitPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return fmt.Errorf("events: rabbitmq close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("events: rabbitmq close connection: %w", err)
		}
	}
	return nil
}
