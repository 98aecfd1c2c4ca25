package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/repository"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Initiator starts one origination attempt for a due call.
type Initiator interface {
	Initiate(ctx context.Context, callID uuid.UUID) error
}

// Scheduler periodically scans for due calls and submits them to the
// orchestrator on a bounded worker pool. A tick never waits for ringing
// calls; it only waits for origination submissions to be accepted.
type Scheduler struct {
	registry  repository.CallRegistry
	initiator Initiator
	log       *logger.Logger

	tickInterval time.Duration
	batchSize    int
	maxInFlight  int
}

// New constructs a scheduler.
func New(registry repository.CallRegistry, initiator Initiator, log *logger.Logger, tickInterval time.Duration, batchSize, maxConcurrentCalls int) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxConcurrentCalls <= 0 {
		maxConcurrentCalls = 8
	}
	return &Scheduler{
		registry:     registry,
		initiator:    initiator,
		log:          log,
		tickInterval: tickInterval,
		batchSize:    batchSize,
		maxInFlight:  maxConcurrentCalls,
	}
}

// Run executes the scheduling loop until cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, s.maxInFlight)
	var wg sync.WaitGroup

	for {
		if err := s.tick(ctx, sem, &wg); err != nil && ctx.Err() == nil {
			s.log.Error("scheduler: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) error {
	tracer := otel.Tracer("followup.scheduler")
	sctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	now := time.Now().UTC()
	due, err := s.registry.ListDue(sctx, now, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("calls.due", len(due)))
	if len(due) == 0 {
		return nil
	}
	s.log.Info("scheduler: due calls found", zap.Int("count", len(due)))

	for _, call := range due {
		select {
		case sem <- struct{}{}:
		case <-sctx.Done():
			return sctx.Err()
		}

		wg.Add(1)
		callID := call.ID
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.initiator.Initiate(ctx, callID); err != nil {
				s.log.Error("scheduler: initiate call",
					zap.String("call_id", callID.String()),
					zap.Error(err))
			}
		}()
	}

	return nil
}
