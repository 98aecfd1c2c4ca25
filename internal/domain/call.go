package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle states of a follow-up call.
type CallStatus string

const (
	CallStatusScheduled  CallStatus = "scheduled"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may leave the status.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusCancelled
}

// ProviderKind identifies which telephony backend handled an origination.
type ProviderKind string

const (
	ProviderAMI   ProviderKind = "ami"
	ProviderCloud ProviderKind = "cloud"
)

// UrgencyLevel classifies analyzed call content. Levels are ordered:
// low < normal < elevated < critical.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyNormal   UrgencyLevel = "normal"
	UrgencyElevated UrgencyLevel = "elevated"
	UrgencyCritical UrgencyLevel = "critical"
)

var urgencyRank = map[UrgencyLevel]int{
	UrgencyLow:      0,
	UrgencyNormal:   1,
	UrgencyElevated: 2,
	UrgencyCritical: 3,
}

// AtLeast reports whether u ranks at or above other. Unknown levels rank
// below low.
func (u UrgencyLevel) AtLeast(other UrgencyLevel) bool {
	return urgencyRank[u] >= urgencyRank[other]
}

// Valid reports whether u is one of the known levels.
func (u UrgencyLevel) Valid() bool {
	_, ok := urgencyRank[u]
	return ok
}

// RetryPolicy defines retry rules for failed originations. Delay is fixed
// between attempts, not exponential.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Call represents one outbound follow-up telephone contact with a patient.
type Call struct {
	ID         uuid.UUID
	PatientID  int64
	OperatorID int64

	PhoneNumber string
	Status      CallStatus

	// Scheduling and retry state.
	ScheduledAt  time.Time
	NextAttempt  *time.Time
	AttemptCount int
	MaxAttempts  int
	RetryDelay   time.Duration

	// Execution window. Duration is seconds, set exactly once.
	StartedAt *time.Time
	EndedAt   *time.Time
	Duration  *int64

	// Provider correlation. At most one is populated, matching whichever
	// provider handled the most recent origination.
	AMICallID   *string
	CloudCallID *string

	// Recording.
	RecordingPath     *string
	RecordingDuration *int64
	RecordingQuality  *string

	// AI results, populated only after pipeline success.
	TranscriptionText       *string
	TranscriptionConfidence *float64
	TranscriptionModel      *string
	Summary                 *string
	KeyPoints               []string
	Sentiment               *string
	Urgency                 *UrgencyLevel
	MedicalNotes            *string
	Recommendations         []string
	AnalysisConfidence      *float64
	SynthesisAudioPath      *string
	ResultsOrphaned         bool

	FailureReason *string

	// Version supports optimistic-concurrency conflict detection.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveProvider reports which provider currently holds an external id.
func (c *Call) ActiveProvider() (ProviderKind, string, bool) {
	if c.AMICallID != nil {
		return ProviderAMI, *c.AMICallID, true
	}
	if c.CloudCallID != nil {
		return ProviderCloud, *c.CloudCallID, true
	}
	return "", "", false
}

// SetExternalID records the external call id for the provider that handled
// the origination, clearing the other provider's id.
func (c *Call) SetExternalID(provider ProviderKind, externalID string) {
	switch provider {
	case ProviderAMI:
		c.AMICallID = &externalID
		c.CloudCallID = nil
	case ProviderCloud:
		c.CloudCallID = &externalID
		c.AMICallID = nil
	}
}

// IsDue reports whether the call is ready for (re)execution at now.
func (c *Call) IsDue(now time.Time) bool {
	if c.Status != CallStatusScheduled {
		return false
	}
	if c.ScheduledAt.After(now) {
		return false
	}
	return c.NextAttempt == nil || !c.NextAttempt.After(now)
}

// CanRetry reports whether another origination attempt is permitted.
func (c *Call) CanRetry() bool {
	return c.AttemptCount < c.MaxAttempts
}

// SetEnded stamps the execution window end and derives Duration from the
// window when the provider did not report it explicitly. Duration is only
// ever set once.
func (c *Call) SetEnded(endedAt time.Time, reported *int64) {
	c.EndedAt = &endedAt
	if c.Duration != nil {
		return
	}
	if reported != nil {
		c.Duration = reported
		return
	}
	if c.StartedAt != nil {
		secs := int64(endedAt.Sub(*c.StartedAt) / time.Second)
		c.Duration = &secs
	}
}

// TranscriptionResult is the output of the transcribe stage.
type TranscriptionResult struct {
	Text       string
	Language   string
	Confidence float64
	Model      string
}

// AnalysisResult is the structured output of one analysis category.
type AnalysisResult struct {
	Category        string
	Summary         string
	KeyPoints       []string
	Sentiment       string
	Urgency         UrgencyLevel
	MedicalNotes    string
	Recommendations []string
	Confidence      float64
}

// SynthesisResult is the output of the synthesize stage.
type SynthesisResult struct {
	AudioPath string
	Duration  int64
}

// CallEvent is an append-only journal record of call activity, retained
// for audit.
type CallEvent struct {
	CallID     uuid.UUID
	Kind       string
	Attempt    int
	Detail     string
	OccurredAt time.Time
}
