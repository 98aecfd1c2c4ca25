package errors

import (
	"errors"
	"fmt"
)

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrProviderUnavailable marks connection/transport level telephony
	// failures. Triggers fallback-provider evaluation, not a per-call retry.
	ErrProviderUnavailable = errors.New("telephony provider unavailable")
	// ErrOriginationFailed marks a per-call attempt failure and drives the
	// retry policy.
	ErrOriginationFailed = errors.New("origination failed")
	// ErrInvalidSignature marks a webhook that fails signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownCall marks a webhook referencing a call that does not exist.
	ErrUnknownCall = errors.New("unknown call")
	// ErrRetryExhausted marks a call whose attempts are used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrPersistenceConflict marks an optimistic-concurrency collision. The
	// triggering operation must re-read and retry its own mutation.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// StageError marks a pipeline stage failure. The pipeline continues past
// non-prerequisite stages.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err as a failure of the named pipeline stage.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
