package webhook

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/orchestrator"
	"github.com/acme/followup-call-service/internal/signature"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Field names of the telephony callback contract.
const (
	fieldSignature    = "signature"
	fieldCallID       = "call_id"
	fieldEvent        = "event"
	fieldDuration     = "duration"
	fieldRecordingURL = "recording_url"
	fieldReason       = "reason"
	fieldTimestamp    = "timestamp"
)

// Verifier validates and decodes telephony webhook payloads. The
// signature covers every field except the signature itself: fields are
// sorted by key, joined as k=v with &, the shared secret appended, and
// the whole MD5-hex hashed.
type Verifier struct {
	secret string
}

// NewVerifier constructs a verifier with the shared webhook secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Decode verifies the payload signature and parses it into an event.
// Verification failure means no field of the payload may be trusted, so
// it is checked before anything else.
func (v *Verifier) Decode(fields map[string]string) (orchestrator.Event, error) {
	provided, ok := fields[fieldSignature]
	if !ok || provided == "" {
		return orchestrator.Event{}, fmt.Errorf("%w: signature missing", apperrors.ErrInvalidSignature)
	}

	signed := make(map[string]string, len(fields)-1)
	for k, val := range fields {
		if k == fieldSignature {
			continue
		}
		signed[k] = val
	}
	if !signature.Verify(signed, v.secret, provided) {
		return orchestrator.Event{}, apperrors.ErrInvalidSignature
	}

	return parseEvent(fields)
}

func parseEvent(fields map[string]string) (orchestrator.Event, error) {
	callID, err := uuid.Parse(fields[fieldCallID])
	if err != nil {
		return orchestrator.Event{}, fmt.Errorf("%w: bad call_id %q", apperrors.ErrValidation, fields[fieldCallID])
	}

	kind := orchestrator.EventKind(fields[fieldEvent])
	switch kind {
	case orchestrator.EventCallStarted, orchestrator.EventCallAnswered,
		orchestrator.EventCallEnded, orchestrator.EventCallFailed:
	default:
		return orchestrator.Event{}, fmt.Errorf("%w: unknown event %q", apperrors.ErrValidation, fields[fieldEvent])
	}

	event := orchestrator.Event{
		CallID:       callID,
		Kind:         kind,
		RecordingURL: fields[fieldRecordingURL],
		Reason:       fields[fieldReason],
	}

	if raw, ok := fields[fieldDuration]; ok && raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			return orchestrator.Event{}, fmt.Errorf("%w: bad duration %q", apperrors.ErrValidation, raw)
		}
		event.Duration = &seconds
	}

	if raw, ok := fields[fieldTimestamp]; ok && raw != "" {
		occurredAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return orchestrator.Event{}, fmt.Errorf("%w: bad timestamp %q", apperrors.ErrValidation, raw)
		}
		event.OccurredAt = occurredAt.UTC()
	}

	return event, nil
}
