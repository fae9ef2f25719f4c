package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"splitledger/internal/platform/kafka/producer"
)

// Publisher captures structured audit events. Emit is called inside business
// operations, so implementations must be quick or hand off to a worker.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Topic is the Kafka topic carrying the domain event trail.
const Topic = "splitledger.events"

// KafkaPublisher appends events to the Kafka event trail, keyed by user so
// one user's actions stay ordered within a partition.
type KafkaPublisher struct {
	producer *producer.Producer
}

func NewKafkaPublisher(p *producer.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return p.producer.Publish(ctx, Topic, []byte(event.UserID.String()), value)
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Emit(ctx context.Context, event Event) error { return nil }
