package orchestrator

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/telephony"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

type fixture struct {
	orch     *Orchestrator
	registry *memRegistry
	journal  *memJournal
	primary  *stubProvider
	fallback *stubProvider
	pub      *capturePublisher
	rec      *stubRecordings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := newMemRegistry()
	journal := &memJournal{}
	pub := &capturePublisher{}
	primary := &stubProvider{
		kind: domain.ProviderAMI,
		originate: func(callID uuid.UUID) (telephony.Handle, error) {
			return telephony.Handle{Provider: domain.ProviderAMI, ExternalID: callID.String()}, nil
		},
	}
	fallback := &stubProvider{
		kind: domain.ProviderCloud,
		originate: func(callID uuid.UUID) (telephony.Handle, error) {
			return telephony.Handle{Provider: domain.ProviderCloud, ExternalID: "cloud-" + callID.String()}, nil
		},
	}

	rec := &stubRecordings{path: "/recordings/test.wav", quality: "good"}
	orch := New(Options{
		Registry:   registry,
		Journal:    journal,
		Locker:     noopLocker{},
		Primary:    primary,
		Fallback:   fallback,
		Completed:  pub,
		Alerts:     pub,
		Recordings: rec,
		DefaultRetry: domain.RetryPolicy{
			MaxAttempts: 3,
			RetryDelay:  30 * time.Minute,
		},
		OriginationTimeout: time.Second,
		Logger:             testLogger(),
	})

	return &fixture{
		orch:     orch,
		registry: registry,
		journal:  journal,
		primary:  primary,
		fallback: fallback,
		pub:      pub,
		rec:      rec,
	}
}

func (f *fixture) scheduleDue(t *testing.T) *domain.Call {
	t.Helper()
	call, err := f.orch.Schedule(context.Background(), ScheduleInput{
		PatientID:   42,
		OperatorID:  7,
		PhoneNumber: "0612345678",
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return call
}

// makeDueNow clears the retry backoff so the next Initiate sees the call
// as due.
func (f *fixture) makeDueNow(t *testing.T, id uuid.UUID) {
	t.Helper()
	call, err := f.registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	past := time.Now().UTC().Add(-time.Second)
	call.NextAttempt = &past
	f.registry.put(*call)
}

func TestScheduleDefaults(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)

	if call.Status != domain.CallStatusScheduled {
		t.Errorf("status = %s, want scheduled", call.Status)
	}
	if call.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", call.MaxAttempts)
	}
	if call.RetryDelay != 30*time.Minute {
		t.Errorf("retry delay = %s, want 30m", call.RetryDelay)
	}
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Schedule(context.Background(), ScheduleInput{PatientID: 42})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInitiateSuccess(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)

	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusInProgress {
		t.Errorf("status = %s, want in_progress", stored.Status)
	}
	if stored.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", stored.AttemptCount)
	}
	if stored.AMICallID == nil || *stored.AMICallID != call.ID.String() {
		t.Errorf("ami call id not recorded: %+v", stored.AMICallID)
	}
	if stored.StartedAt == nil {
		t.Errorf("started at not stamped by a successful origination")
	}
	if stored.NextAttempt != nil {
		t.Errorf("next attempt = %v, want nil once the call is in progress", stored.NextAttempt)
	}
	if f.fallback.originated != 0 {
		t.Errorf("fallback should not have been used")
	}
}

func TestInitiateAfterRetryClearsBackoff(t *testing.T) {
	f := newFixture(t)
	f.primary.originate = func(uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{}, fmt.Errorf("%w: no answer", apperrors.ErrOriginationFailed)
	}
	call := f.scheduleDue(t)

	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("failing attempt: %v", err)
	}
	f.makeDueNow(t, call.ID)

	// Second attempt succeeds; the retry backoff must not linger.
	f.primary.originate = func(callID uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{Provider: domain.ProviderAMI, ExternalID: callID.String()}, nil
	}
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("successful attempt: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusInProgress {
		t.Fatalf("status = %s, want in_progress", stored.Status)
	}
	if stored.NextAttempt != nil {
		t.Errorf("next attempt = %v, want nil after successful origination", stored.NextAttempt)
	}
	if stored.StartedAt == nil {
		t.Errorf("started at not stamped by the successful attempt")
	}
}

func TestInitiateNotDueIsNoop(t *testing.T) {
	f := newFixture(t)
	call, err := f.orch.Schedule(context.Background(), ScheduleInput{
		PatientID:   42,
		PhoneNumber: "0612345678",
		ScheduledAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if f.primary.originated != 0 {
		t.Errorf("originate called for a call that is not due")
	}
}

func TestInitiateFallbackOnUnavailable(t *testing.T) {
	f := newFixture(t)
	f.primary.originate = func(uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{}, fmt.Errorf("%w: dial tcp refused", apperrors.ErrProviderUnavailable)
	}
	call := f.scheduleDue(t)

	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusInProgress {
		t.Fatalf("status = %s, want in_progress", stored.Status)
	}
	if stored.CloudCallID == nil {
		t.Fatalf("cloud call id not recorded after fallback")
	}
	if stored.AMICallID != nil {
		t.Errorf("ami call id should be cleared when fallback handled the call")
	}
	if f.fallback.originated != 1 {
		t.Errorf("fallback originated %d times, want 1", f.fallback.originated)
	}
}

func TestInitiateRejectionDoesNotUseFallback(t *testing.T) {
	f := newFixture(t)
	f.primary.originate = func(uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{}, fmt.Errorf("%w: busy", apperrors.ErrOriginationFailed)
	}
	call := f.scheduleDue(t)

	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if f.fallback.originated != 0 {
		t.Errorf("fallback must only run on provider unavailability")
	}
	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusScheduled {
		t.Errorf("status = %s, want scheduled for retry", stored.Status)
	}
}

func TestInitiateFailureSchedulesFixedDelayRetry(t *testing.T) {
	f := newFixture(t)
	f.primary.originate = func(uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{}, fmt.Errorf("%w: no answer", apperrors.ErrOriginationFailed)
	}
	call := f.scheduleDue(t)

	before := time.Now().UTC()
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusScheduled {
		t.Fatalf("status = %s, want scheduled", stored.Status)
	}
	if stored.NextAttempt == nil {
		t.Fatalf("next attempt not set")
	}

	delay := stored.NextAttempt.Sub(before)
	if delay < 29*time.Minute || delay > 31*time.Minute {
		t.Errorf("retry delay = %s, want fixed 30m", delay)
	}
	if stored.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", stored.AttemptCount)
	}
}

func TestInitiateExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.primary.originate = func(uuid.UUID) (telephony.Handle, error) {
		return telephony.Handle{}, fmt.Errorf("%w: no answer", apperrors.ErrOriginationFailed)
	}
	call := f.scheduleDue(t)

	for i := 0; i < 3; i++ {
		if i > 0 {
			f.makeDueNow(t, call.ID)
		}
		if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
			t.Fatalf("Initiate attempt %d: %v", i+1, err)
		}
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != FailureReasonExhausted {
		t.Errorf("failure reason = %v, want %q", stored.FailureReason, FailureReasonExhausted)
	}
	if stored.NextAttempt != nil {
		t.Errorf("next attempt = %v, want nil on a terminally failed call", stored.NextAttempt)
	}
	if stored.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", stored.AttemptCount)
	}
	if len(f.pub.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(f.pub.alerts))
	}
	if f.pub.alerts[0].Kind != "retry_exhausted" {
		t.Errorf("alert kind = %s, want retry_exhausted", f.pub.alerts[0].Kind)
	}

	// A failed call must never be picked up again.
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate after exhaustion: %v", err)
	}
	if f.primary.originated != 3 {
		t.Errorf("originated %d times, want 3", f.primary.originated)
	}
}

func TestWebhookStartedKeepsOriginationStamp(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	originated, _ := f.registry.Get(context.Background(), call.ID)
	if originated.StartedAt == nil {
		t.Fatalf("started at not stamped at origination")
	}
	stamp := *originated.StartedAt

	// Later provider events confirm the state but never move the stamp.
	for _, kind := range []EventKind{EventCallStarted, EventCallAnswered} {
		err := f.orch.ApplyWebhookEvent(context.Background(), Event{
			CallID:     call.ID,
			Kind:       kind,
			OccurredAt: stamp.Add(5 * time.Second),
		})
		if err != nil {
			t.Fatalf("ApplyWebhookEvent %s: %v", kind, err)
		}
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusInProgress {
		t.Errorf("status = %s, want in_progress", stored.Status)
	}
	if stored.StartedAt == nil || !stored.StartedAt.Equal(stamp) {
		t.Errorf("started at = %v, want origination stamp %v", stored.StartedAt, stamp)
	}
}

func TestWebhookStartedStampsWhenOriginationDidNot(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)

	// A call forced in progress without a stamp takes the first event's.
	stored, _ := f.registry.Get(context.Background(), call.ID)
	stored.Status = domain.CallStatusInProgress
	f.registry.put(*stored)

	startedAt := time.Now().UTC().Truncate(time.Second)
	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID:     call.ID,
		Kind:       EventCallStarted,
		OccurredAt: startedAt,
	})
	if err != nil {
		t.Fatalf("ApplyWebhookEvent: %v", err)
	}

	after, _ := f.registry.Get(context.Background(), call.ID)
	if after.StartedAt == nil || !after.StartedAt.Equal(startedAt) {
		t.Errorf("started at = %v, want %v", after.StartedAt, startedAt)
	}
}

func TestWebhookEndedCompletesAndPublishes(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	originated, _ := f.registry.Get(context.Background(), call.ID)
	if originated.StartedAt == nil {
		t.Fatalf("started at not stamped at origination")
	}

	endedAt := originated.StartedAt.Add(75 * time.Second)
	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID:       call.ID,
		Kind:         EventCallEnded,
		OccurredAt:   endedAt,
		RecordingURL: "http://pbx/recordings/abc.wav",
	})
	if err != nil {
		t.Fatalf("ended event: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Duration == nil || *stored.Duration != 75 {
		t.Errorf("duration = %v, want 75 derived from the execution window", stored.Duration)
	}
	if stored.RecordingPath == nil || *stored.RecordingPath != "/recordings/test.wav" {
		t.Errorf("recording path = %v", stored.RecordingPath)
	}
	if len(f.pub.completed) != 1 {
		t.Fatalf("completed messages = %d, want 1", len(f.pub.completed))
	}
	if f.pub.completed[0].CallID != call.ID {
		t.Errorf("completed message for wrong call")
	}
}

func TestWebhookEndedFetchesRecordingOnce(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Version conflicts force the save to re-read and re-apply; the
	// recording download must not repeat with it.
	f.registry.failSaves = 2
	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID:       call.ID,
		Kind:         EventCallEnded,
		OccurredAt:   time.Now().UTC(),
		RecordingURL: "http://pbx/recordings/abc.wav",
	})
	if err != nil {
		t.Fatalf("ended event: %v", err)
	}

	if f.rec.fetches != 1 {
		t.Errorf("recording fetched %d times, want 1", f.rec.fetches)
	}
	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.RecordingPath == nil || *stored.RecordingPath != "/recordings/test.wav" {
		t.Errorf("recording path = %v", stored.RecordingPath)
	}
}

func TestWebhookReportedDurationWins(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	reported := int64(120)
	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID:     call.ID,
		Kind:       EventCallEnded,
		Duration:   &reported,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ended event: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Duration == nil || *stored.Duration != 120 {
		t.Errorf("duration = %v, want provider-reported 120", stored.Duration)
	}
}

func TestWebhookTerminalCallIsIdempotent(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	ended := Event{CallID: call.ID, Kind: EventCallEnded, OccurredAt: time.Now().UTC()}
	if err := f.orch.ApplyWebhookEvent(context.Background(), ended); err != nil {
		t.Fatalf("first ended event: %v", err)
	}

	before, _ := f.registry.Get(context.Background(), call.ID)
	if err := f.orch.ApplyWebhookEvent(context.Background(), ended); err != nil {
		t.Fatalf("duplicate ended event: %v", err)
	}
	after, _ := f.registry.Get(context.Background(), call.ID)

	if !reflect.DeepEqual(before, after) {
		t.Errorf("duplicate event mutated a terminal call:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(f.pub.completed) != 1 {
		t.Errorf("completed published %d times, want 1", len(f.pub.completed))
	}
}

func TestWebhookFailedAppliesRetryPolicy(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID: call.ID,
		Kind:   EventCallFailed,
		Reason: "no answer",
	})
	if err != nil {
		t.Fatalf("failed event: %v", err)
	}

	stored, _ := f.registry.Get(context.Background(), call.ID)
	if stored.Status != domain.CallStatusScheduled {
		t.Errorf("status = %s, want scheduled for retry", stored.Status)
	}
	if stored.NextAttempt == nil {
		t.Errorf("next attempt not set after provider failure")
	}
}

func TestWebhookUnknownCall(t *testing.T) {
	f := newFixture(t)
	err := f.orch.ApplyWebhookEvent(context.Background(), Event{
		CallID: uuid.New(),
		Kind:   EventCallEnded,
	})
	if !apperrors.Is(err, apperrors.ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}

func TestCancelScheduledCall(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)

	cancelled, err := f.orch.Cancel(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.CallStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelled is terminal.
	if _, err := f.orch.Cancel(context.Background(), call.ID); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("second cancel should fail validation, got %v", err)
	}
}

func TestCancelInProgressHangsUpLiveCall(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	cancelled, err := f.orch.Cancel(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.CallStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	if len(f.primary.hangups) != 1 {
		t.Fatalf("hangups = %d, want 1", len(f.primary.hangups))
	}
	if f.primary.hangups[0].ExternalID != call.ID.String() {
		t.Errorf("hangup for external id %s, want %s", f.primary.hangups[0].ExternalID, call.ID.String())
	}
	if len(f.fallback.hangups) != 0 {
		t.Errorf("hangup sent to the wrong provider")
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	if err := f.orch.Initiate(context.Background(), call.ID); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.orch.ApplyWebhookEvent(context.Background(), Event{CallID: call.ID, Kind: EventCallEnded, OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("ended event: %v", err)
	}

	if _, err := f.orch.Cancel(context.Background(), call.ID); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMutateRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	call := f.scheduleDue(t)
	f.registry.failSaves = 2

	updated, err := f.orch.Mutate(context.Background(), call.ID, func(c *domain.Call) error {
		c.OperatorID = 99
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if updated.OperatorID != 99 {
		t.Errorf("mutation lost after conflict retries")
	}
}
