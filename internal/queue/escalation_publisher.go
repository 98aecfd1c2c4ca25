package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EscalationPublisher routes urgent analysis results to medical staff.
type EscalationPublisher struct {
	writer *kafka.Writer
}

// NewEscalationPublisher constructs a publisher for the escalation topic.
func NewEscalationPublisher(k *Kafka, topic string) *EscalationPublisher {
	return &EscalationPublisher{writer: k.NewWriter(topic)}
}

// PublishEscalation emits an escalation message.
func (p *EscalationPublisher) PublishEscalation(ctx context.Context, msg EscalationMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("escalation publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("escalation publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EscalationPublisher) Close() error {
	return p.writer.Close()
}
