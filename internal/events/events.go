// Package events publishes dataset change notifications to a message broker.
//
// Publishing is strictly best-effort: ingestion and row edits never fail
// because a broker is down. Callers log publish errors and move on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	TypeIngestCompleted = "ingest_completed"
	TypeRowUpdated      = "row_updated"
	TypeRowDeleted      = "row_deleted"
	TypeTableTruncated  = "table_truncated"
)

// Event describes one change to a dataset table.
type Event struct {
	Type    string    `json:"type"`
	Dataset string    `json:"dataset"`
	Rows    int       `json:"rows,omitempty"`   // affected row count (bulk operations)
	RowID   int64     `json:"row_id,omitempty"` // affected row (point operations)
	At      time.Time `json:"at"`
}

// Marshal renders the event as the JSON wire message.
func (e Event) Marshal() ([]byte, error) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: marshal: %w", err)
	}
	return data, nil
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Config selects and configures a broker backend.
type Config struct {
	Type string `yaml:"type"` // "kafka", "rabbitmq", or "" (disabled)

	// Kafka settings.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// RabbitMQ settings.
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// New builds a Publisher from config. An empty type yields the no-op
// publisher, so a broker is always optional.
func New(cfg Config) (Publisher, error) {
	switch cfg.Type {
	case "":
		return Nop{}, nil
	case "kafka":
		return newKafka(cfg)
	case "rabbitmq":
		return newRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("events: unsupported broker type %q (supported: kafka, rabbitmq)", cfg.Type)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
