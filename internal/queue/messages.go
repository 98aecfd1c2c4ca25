package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
)

// CompletedMessage announces a completed call ready for the AI pipeline.
type CompletedMessage struct {
	CallID       uuid.UUID `json:"call_id"`
	PatientID    int64     `json:"patient_id"`
	RecordingURL string    `json:"recording_url,omitempty"`
	EndedAt      time.Time `json:"ended_at"`
	Duration     int64     `json:"duration_seconds"`
}

// EscalationMessage notifies medical staff about a call whose analysis
// crossed the urgency threshold.
type EscalationMessage struct {
	CallID     uuid.UUID           `json:"call_id"`
	PatientID  int64               `json:"patient_id"`
	OperatorID int64               `json:"operator_id"`
	Urgency    domain.UrgencyLevel `json:"urgency"`
	Summary    string              `json:"summary"`
	Sentiment  string              `json:"sentiment"`
	RaisedAt   time.Time           `json:"raised_at"`
}

// AlertMessage flags an operational condition that needs human attention,
// such as a call that exhausted its retry budget.
type AlertMessage struct {
	CallID    uuid.UUID `json:"call_id"`
	PatientID int64     `json:"patient_id"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	RaisedAt  time.Time `json:"raised_at"`
}

// AlertRetryExhausted marks calls that failed every permitted attempt.
const AlertRetryExhausted = "retry_exhausted"
