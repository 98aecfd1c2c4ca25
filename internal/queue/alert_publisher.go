package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// AlertPublisher emits operational alerts for human follow-up.
type AlertPublisher struct {
	writer *kafka.Writer
}

// NewAlertPublisher constructs a publisher for the alert topic.
func NewAlertPublisher(k *Kafka, topic string) *AlertPublisher {
	return &AlertPublisher{writer: k.NewWriter(topic)}
}

// PublishAlert emits an alert message.
func (p *AlertPublisher) PublishAlert(ctx context.Context, msg AlertMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("alert publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   msg.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("alert publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}
