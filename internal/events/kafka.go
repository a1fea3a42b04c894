package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaPublisher writes change events to a Kafka topic.
type kafkaPublisher struct {
	writer *kafka.Writer
}

func newKafka(cfg Config) (*kafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: at least one kafka broker address is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka topic is required")
	}

	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			Compression:  kafka.Snappy,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(ev.Dataset),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: kafka close: %w", err)
	}
	return nil
}
