package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/internal/repository"
	"github.com/acme/followup-call-service/internal/telephony"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
	"github.com/acme/followup-call-service/pkg/logger"
)

// mutateRetries bounds how often a single mutation re-applies after a
// version conflict before giving up.
const mutateRetries = 5

// FailureReasonExhausted is recorded when a call fails every permitted
// origination attempt.
const FailureReasonExhausted = "attempts exhausted"

// errUnchanged is returned by a mutation function to signal that the
// call must not be written back. Mutate then leaves the stored row
// untouched, version included.
var errUnchanged = errors.New("orchestrator: call unchanged")

// CompletedPublisher hands completed calls to the pipeline.
type CompletedPublisher interface {
	PublishCompleted(ctx context.Context, msg queue.CompletedMessage) error
}

// AlertPublisher raises operational alerts.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, msg queue.AlertMessage) error
}

// RecordingStore fetches provider recordings to local storage.
type RecordingStore interface {
	Fetch(ctx context.Context, callID uuid.UUID, url string) (path string, quality string, err error)
}

// Locker serializes per-call mutations across processes.
type Locker interface {
	Acquire(ctx context.Context, callID uuid.UUID) (release func(context.Context) error, ok bool, err error)
	Wait(ctx context.Context, callID uuid.UUID) (release func(context.Context) error, err error)
}

// Orchestrator owns the call lifecycle: scheduling, origination with
// provider fallback, webhook-driven transitions, retry policy, and
// cancellation. Every mutation runs under the per-call lock and retries
// version conflicts by re-reading and re-applying.
type Orchestrator struct {
	registry   repository.CallRegistry
	journal    repository.EventJournal
	locker     Locker
	primary    telephony.Provider
	fallback   telephony.Provider
	completed  CompletedPublisher
	alerts     AlertPublisher
	recordings RecordingStore

	defaultRetry       domain.RetryPolicy
	originationTimeout time.Duration
	log                *logger.Logger
}

// Options carries constructor dependencies.
type Options struct {
	Registry   repository.CallRegistry
	Journal    repository.EventJournal
	Locker     Locker
	Primary    telephony.Provider
	Fallback   telephony.Provider
	Completed  CompletedPublisher
	Alerts     AlertPublisher
	Recordings RecordingStore

	DefaultRetry       domain.RetryPolicy
	OriginationTimeout time.Duration
	Logger             *logger.Logger
}

// New constructs the orchestrator. Fallback may be nil.
func New(opts Options) *Orchestrator {
	if opts.OriginationTimeout <= 0 {
		opts.OriginationTimeout = 30 * time.Second
	}
	if opts.DefaultRetry.MaxAttempts <= 0 {
		opts.DefaultRetry.MaxAttempts = 3
	}
	if opts.DefaultRetry.RetryDelay <= 0 {
		opts.DefaultRetry.RetryDelay = 30 * time.Minute
	}
	return &Orchestrator{
		registry:           opts.Registry,
		journal:            opts.Journal,
		locker:             opts.Locker,
		primary:            opts.Primary,
		fallback:           opts.Fallback,
		completed:          opts.Completed,
		alerts:             opts.Alerts,
		recordings:         opts.Recordings,
		defaultRetry:       opts.DefaultRetry,
		originationTimeout: opts.OriginationTimeout,
		log:                opts.Logger,
	}
}

// ScheduleInput carries the arguments for scheduling a follow-up call.
type ScheduleInput struct {
	PatientID   int64
	OperatorID  int64
	PhoneNumber string
	ScheduledAt time.Time
	MaxAttempts int
	RetryDelay  time.Duration
}

// Schedule creates a new call in the scheduled state.
func (o *Orchestrator) Schedule(ctx context.Context, input ScheduleInput) (*domain.Call, error) {
	if input.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if input.PatientID <= 0 {
		return nil, fmt.Errorf("%w: patient id is required", apperrors.ErrValidation)
	}

	now := time.Now().UTC()
	scheduledAt := input.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.defaultRetry.MaxAttempts
	}
	retryDelay := input.RetryDelay
	if retryDelay <= 0 {
		retryDelay = o.defaultRetry.RetryDelay
	}

	call := &domain.Call{
		ID:          uuid.New(),
		PatientID:   input.PatientID,
		OperatorID:  input.OperatorID,
		PhoneNumber: input.PhoneNumber,
		Status:      domain.CallStatusScheduled,
		ScheduledAt: scheduledAt,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.registry.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("orchestrator: persist call: %w", err)
	}
	o.journalEvent(ctx, call, "scheduled", "")
	return call, nil
}

// Get retrieves a call by id.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	return o.registry.Get(ctx, id)
}

// ListByPatient lists a patient's calls.
func (o *Orchestrator) ListByPatient(ctx context.Context, patientID int64, limit int) ([]*domain.Call, error) {
	return o.registry.ListByPatient(ctx, patientID, limit)
}

// Initiate executes one origination attempt for a due call. Origination
// failures never surface as errors; they are absorbed into the retry
// policy. The returned error covers infrastructure problems only.
func (o *Orchestrator) Initiate(ctx context.Context, callID uuid.UUID) error {
	release, ok, err := o.locker.Acquire(ctx, callID)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker holds the call; it will be retried on a later tick.
		return nil
	}
	defer func() { _ = release(context.Background()) }()

	call, err := o.registry.Get(ctx, callID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !call.IsDue(now) {
		return nil
	}

	call.AttemptCount++
	attempt := call.AttemptCount
	o.journalEvent(ctx, call, "origination_attempt", fmt.Sprintf("attempt %d/%d", attempt, call.MaxAttempts))

	handle, origErr := o.originate(ctx, call)
	if origErr != nil {
		o.applyFailure(ctx, call, origErr.Error())
		return o.saveWithRetry(ctx, call)
	}

	startedAt := time.Now().UTC()
	call.Status = domain.CallStatusInProgress
	call.StartedAt = &startedAt
	call.NextAttempt = nil
	call.SetExternalID(handle.Provider, handle.ExternalID)
	call.FailureReason = nil
	o.journalEvent(ctx, call, "originated", string(handle.Provider))
	return o.saveWithRetry(ctx, call)
}

// originate tries the primary provider and evaluates the fallback once
// when the primary reports unavailability.
func (o *Orchestrator) originate(ctx context.Context, call *domain.Call) (telephony.Handle, error) {
	octx, cancel := context.WithTimeout(ctx, o.originationTimeout)
	defer cancel()

	handle, err := o.primary.Originate(octx, call.ID, call.PhoneNumber)
	if err == nil {
		return handle, nil
	}
	if !apperrors.Is(err, apperrors.ErrProviderUnavailable) || o.fallback == nil {
		return telephony.Handle{}, err
	}

	o.log.Warn("orchestrator: primary provider unavailable, trying fallback",
		zap.String("call_id", call.ID.String()),
		zap.String("primary", string(o.primary.Name())),
		zap.Error(err))

	fctx, fcancel := context.WithTimeout(ctx, o.originationTimeout)
	defer fcancel()
	return o.fallback.Originate(fctx, call.ID, call.PhoneNumber)
}

// applyFailure runs the retry policy against the in-memory call. With
// attempts remaining the call returns to scheduled with a fixed-delay
// next_attempt; otherwise it fails terminally and an operational alert
// is raised.
func (o *Orchestrator) applyFailure(ctx context.Context, call *domain.Call, reason string) {
	if call.CanRetry() {
		next := time.Now().UTC().Add(call.RetryDelay)
		call.Status = domain.CallStatusScheduled
		call.NextAttempt = &next
		call.FailureReason = &reason
		o.journalEvent(ctx, call, "retry_scheduled", next.Format(time.RFC3339))
		return
	}

	exhausted := FailureReasonExhausted
	call.Status = domain.CallStatusFailed
	call.NextAttempt = nil
	call.FailureReason = &exhausted
	o.journalEvent(ctx, call, "attempts_exhausted", reason)

	alert := queue.AlertMessage{
		CallID:    call.ID,
		PatientID: call.PatientID,
		Kind:      queue.AlertRetryExhausted,
		Reason:    reason,
		Attempts:  call.AttemptCount,
		RaisedAt:  time.Now().UTC(),
	}
	if err := o.alerts.PublishAlert(ctx, alert); err != nil {
		o.log.Error("orchestrator: publish retry-exhausted alert",
			zap.String("call_id", call.ID.String()), zap.Error(err))
	}
}

// Cancel withdraws a call from any pre-terminal state. Cancelling an
// in-progress call also hangs up the live leg at its provider; a hangup
// failure is logged, the cancellation itself stands.
func (o *Orchestrator) Cancel(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var hangup *telephony.Handle
	call, err := o.Mutate(ctx, callID, func(call *domain.Call) error {
		hangup = nil
		switch call.Status {
		case domain.CallStatusScheduled, domain.CallStatusFailed:
		case domain.CallStatusInProgress:
			if kind, externalID, ok := call.ActiveProvider(); ok {
				hangup = &telephony.Handle{Provider: kind, ExternalID: externalID}
			}
		default:
			return fmt.Errorf("%w: cannot cancel call in status %s", apperrors.ErrValidation, call.Status)
		}
		call.Status = domain.CallStatusCancelled
		call.NextAttempt = nil
		o.journalEvent(ctx, call, "cancelled", "")
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hangup != nil {
		if provider := o.providerFor(hangup.Provider); provider != nil {
			if herr := provider.Hangup(ctx, *hangup); herr != nil {
				o.log.Warn("orchestrator: hang up cancelled call",
					zap.String("call_id", call.ID.String()),
					zap.String("provider", string(hangup.Provider)),
					zap.Error(herr))
			}
		}
	}
	return call, nil
}

func (o *Orchestrator) providerFor(kind domain.ProviderKind) telephony.Provider {
	if o.primary != nil && o.primary.Name() == kind {
		return o.primary
	}
	if o.fallback != nil && o.fallback.Name() == kind {
		return o.fallback
	}
	return nil
}

// Mutate loads a call under its lock, applies fn, and saves. A version
// conflict re-reads and re-applies fn up to mutateRetries times. When fn
// returns errUnchanged the stored row is left exactly as read.
func (o *Orchestrator) Mutate(ctx context.Context, callID uuid.UUID, fn func(call *domain.Call) error) (*domain.Call, error) {
	release, err := o.locker.Wait(ctx, callID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(context.Background()) }()

	var lastErr error
	for i := 0; i < mutateRetries; i++ {
		call, err := o.registry.Get(ctx, callID)
		if err != nil {
			return nil, err
		}
		if err := fn(call); err != nil {
			if errors.Is(err, errUnchanged) {
				return call, nil
			}
			return nil, err
		}

		err = o.registry.Save(ctx, call)
		if err == nil {
			return call, nil
		}
		if !apperrors.Is(err, apperrors.ErrPersistenceConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("orchestrator: mutation kept conflicting: %w", lastErr)
}

// saveWithRetry persists an already-mutated call, re-reading and
// replaying the attempt bookkeeping on conflicts. Used by Initiate where
// the expensive origination must not be repeated.
func (o *Orchestrator) saveWithRetry(ctx context.Context, call *domain.Call) error {
	var lastErr error
	for i := 0; i < mutateRetries; i++ {
		err := o.registry.Save(ctx, call)
		if err == nil {
			return nil
		}
		if !apperrors.Is(err, apperrors.ErrPersistenceConflict) {
			return err
		}
		lastErr = err

		fresh, err := o.registry.Get(ctx, call.ID)
		if err != nil {
			return err
		}
		if fresh.Status.IsTerminal() {
			// The call was completed or cancelled underneath us; the
			// origination outcome no longer matters.
			return nil
		}
		merged := *call
		merged.Version = fresh.Version
		merged.CreatedAt = fresh.CreatedAt
		*call = merged
	}
	return fmt.Errorf("orchestrator: save kept conflicting: %w", lastErr)
}

func (o *Orchestrator) journalEvent(ctx context.Context, call *domain.Call, kind, detail string) {
	event := domain.CallEvent{
		CallID:     call.ID,
		Kind:       kind,
		Attempt:    call.AttemptCount,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	if err := o.journal.Append(ctx, event); err != nil {
		o.log.Warn("orchestrator: journal append",
			zap.String("call_id", call.ID.String()),
			zap.String("kind", kind),
			zap.Error(err))
	}
}
