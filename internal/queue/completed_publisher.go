package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// CompletedPublisher hands completed calls to the pipeline worker.
type CompletedPublisher struct {
	writer *kafka.Writer
}

// NewCompletedPublisher constructs a publisher for the completed-call topic.
func NewCompletedPublisher(k *Kafka, topic string) *CompletedPublisher {
	return &CompletedPublisher{writer: k.NewWriter(topic)}
}

// PublishCompleted emits a completed-call message, keyed by call id so all
// events for one call land on the same partition.
func (p *CompletedPublisher) PublishCompleted(ctx context.Context, msg CompletedMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("completed publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("completed publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *CompletedPublisher) Close() error {
	return p.writer.Close()
}
