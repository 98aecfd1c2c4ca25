package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Processor runs the AI pipeline for one completed call.
type Processor interface {
	Process(ctx context.Context, callID uuid.UUID) error
}

// Worker consumes completed-call messages and feeds them to the
// pipeline on a bounded pool. Transcription is the expensive stage, so
// the pool size tracks max_concurrent_transcriptions.
type Worker struct {
	reader    *kafka.Reader
	processor Processor
	log       *logger.Logger
	poolSize  int
}

// New creates a pipeline worker reading from the completed-call topic.
func New(k *queue.Kafka, topic, groupID string, processor Processor, log *logger.Logger, maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Worker{
		reader:    k.NewReader(topic, groupID),
		processor: processor,
		log:       log,
		poolSize:  maxConcurrent,
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	sem := make(chan struct{}, w.poolSize)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("pipeline worker: fetch message", zap.Error(err))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func(m kafka.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := w.processMessage(ctx, m); err != nil {
				w.log.Error("pipeline worker: process", zap.Error(err))
			}
		}(m)
	}
}

func (w *Worker) processMessage(ctx context.Context, m kafka.Message) error {
	var msg queue.CompletedMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		// A poison message would block the partition forever; drop it.
		_ = w.reader.CommitMessages(ctx, m)
		return fmt.Errorf("unmarshal completed message: %w", err)
	}

	tracer := otel.Tracer("followup.pipelineworker")
	sctx, span := tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("call.id", msg.CallID.String()),
	))
	defer span.End()

	if err := w.processor.Process(sctx, msg.CallID); err != nil {
		span.RecordError(err)
		w.log.Error("pipeline worker: pipeline failed",
			zap.String("call_id", msg.CallID.String()),
			zap.Error(err))
		// The pipeline runs at most once per completed call; failures are
		// recorded, not redelivered.
	}

	if err := w.reader.CommitMessages(sctx, m); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}
