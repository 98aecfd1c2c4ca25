package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/queue"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// EventKind enumerates telephony webhook event types.
type EventKind string

const (
	EventCallStarted  EventKind = "call_started"
	EventCallAnswered EventKind = "call_answered"
	EventCallEnded    EventKind = "call_ended"
	EventCallFailed   EventKind = "call_failed"
)

// Event is a verified telephony callback.
type Event struct {
	CallID       uuid.UUID
	Kind         EventKind
	Duration     *int64
	RecordingURL string
	Reason       string
	OccurredAt   time.Time
}

// ApplyWebhookEvent feeds a verified provider event through the state
// machine. Events for terminal calls are acknowledged without mutation so
// provider redeliveries stay harmless.
func (o *Orchestrator) ApplyWebhookEvent(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	var (
		completed *domain.Call

		// The recording is fetched at most once per event, even when the
		// save retries on a version conflict.
		recPath, recQuality string
		recFetched          bool
	)
	_, err := o.Mutate(ctx, event.CallID, func(call *domain.Call) error {
		completed = nil
		if call.Status.IsTerminal() {
			o.log.Debug("orchestrator: event for terminal call ignored",
				zap.String("call_id", call.ID.String()),
				zap.String("event", string(event.Kind)))
			return errUnchanged
		}

		switch event.Kind {
		case EventCallStarted, EventCallAnswered:
			call.Status = domain.CallStatusInProgress
			if call.StartedAt == nil {
				startedAt := event.OccurredAt
				call.StartedAt = &startedAt
			}
			o.journalEvent(ctx, call, string(event.Kind), "")

		case EventCallEnded:
			if event.RecordingURL != "" && call.RecordingPath == nil && !recFetched {
				recFetched = true
				recPath, recQuality = o.fetchRecording(ctx, call.ID, event.RecordingURL)
			}
			o.complete(ctx, call, event, recPath, recQuality)
			completed = call

		case EventCallFailed:
			reason := event.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			o.journalEvent(ctx, call, string(event.Kind), reason)
			o.applyFailure(ctx, call, reason)

		default:
			return apperrors.Wrap(apperrors.ErrValidation, "unsupported event kind "+string(event.Kind))
		}
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrUnknownCall
		}
		return err
	}

	// Publish only after the completed state is durably stored, so the
	// pipeline never observes a call it cannot re-read.
	if completed != nil {
		o.publishCompleted(ctx, completed)
	}
	return nil
}

// complete finishes the call in memory: execution window, recording
// attachment, terminal status.
func (o *Orchestrator) complete(ctx context.Context, call *domain.Call, event Event, recordingPath, recordingQuality string) {
	call.Status = domain.CallStatusCompleted
	call.SetEnded(event.OccurredAt, event.Duration)
	call.FailureReason = nil

	if recordingPath != "" && call.RecordingPath == nil {
		call.RecordingPath = &recordingPath
	}
	if recordingQuality != "" && call.RecordingQuality == nil {
		call.RecordingQuality = &recordingQuality
	}
	if call.RecordingPath != nil && call.Duration != nil && call.RecordingDuration == nil {
		call.RecordingDuration = call.Duration
	}

	o.journalEvent(ctx, call, "completed", "")
}

// fetchRecording downloads the provider recording, logging failures
// instead of failing the completion.
func (o *Orchestrator) fetchRecording(ctx context.Context, callID uuid.UUID, url string) (string, string) {
	path, quality, err := o.recordings.Fetch(ctx, callID, url)
	if err != nil {
		o.log.Error("orchestrator: fetch recording",
			zap.String("call_id", callID.String()),
			zap.String("url", url),
			zap.Error(err))
	}
	return path, quality
}

func (o *Orchestrator) publishCompleted(ctx context.Context, call *domain.Call) {
	var duration int64
	if call.Duration != nil {
		duration = *call.Duration
	}
	endedAt := time.Now().UTC()
	if call.EndedAt != nil {
		endedAt = *call.EndedAt
	}

	msg := queue.CompletedMessage{
		CallID:    call.ID,
		PatientID: call.PatientID,
		EndedAt:   endedAt,
		Duration:  duration,
	}
	if err := o.completed.PublishCompleted(ctx, msg); err != nil {
		o.log.Error("orchestrator: publish completed call",
			zap.String("call_id", call.ID.String()), zap.Error(err))
	}
}
