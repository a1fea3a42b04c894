package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New(empty) error = %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Errorf("New(empty) = %T, want Nop", p)
	}
	if err := p.Publish(context.Background(), Event{Type: TypeRowDeleted}); err != nil {
		t.Errorf("Nop.Publish() error = %v", err)
	}
}

func TestNew_Rejects(t *testing.T) {
	cases := []Config{
		{Type: "nats"},
		{Type: "kafka"},                                   // no brokers
		{Type: "kafka", Brokers: []string{"localhost:9"}}, // no topic
	}
	for _, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("New(%+v) = nil error, want rejection", cfg)
		}
	}
}

func TestEvent_Marshal(t *testing.T) {
	ev := Event{
		Type:    TypeIngestCompleted,
		Dataset: "pincode",
		Rows:    250,
	}

	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal round-trip: %v", err)
	}
	if decoded.Type != TypeIngestCompleted || decoded.Dataset != "pincode" || decoded.Rows != 250 {
		t.Errorf("round-trip mismatch: %+v", decoded)
	}
	if decoded.At.IsZero() {
		t.Error("Marshal() did not stamp At")
	}
	if time.Since(decoded.At) > time.Minute {
		t.Errorf("At = %v, want roughly now", decoded.At)
	}
}
