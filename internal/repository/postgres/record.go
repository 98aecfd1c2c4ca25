package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
)

// stringList stores a []string as a JSONB column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("string list: marshal: %w", err)
	}
	return string(b), nil
}

func (l *stringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("string list: unsupported scan type %T", src)
	}

	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("string list: unmarshal: %w", err)
	}
	*l = items
	return nil
}

// callRecord mirrors the calls table row layout.
type callRecord struct {
	ID          uuid.UUID `db:"id"`
	PatientID   int64     `db:"patient_id"`
	OperatorID  int64     `db:"operator_id"`
	PhoneNumber string    `db:"phone_number"`
	Status      string    `db:"status"`

	ScheduledAt  time.Time  `db:"scheduled_at"`
	NextAttempt  *time.Time `db:"next_attempt"`
	AttemptCount int        `db:"attempt_count"`
	MaxAttempts  int        `db:"max_attempts"`
	RetryDelayMS int64      `db:"retry_delay_ms"`

	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	Duration  *int64     `db:"duration"`

	AMICallID   *string `db:"ami_call_id"`
	CloudCallID *string `db:"cloud_call_id"`

	RecordingPath     *string `db:"recording_path"`
	RecordingDuration *int64  `db:"recording_duration"`
	RecordingQuality  *string `db:"recording_quality"`

	TranscriptionText       *string    `db:"transcription_text"`
	TranscriptionConfidence *float64   `db:"transcription_confidence"`
	TranscriptionModel      *string    `db:"transcription_model"`
	Summary                 *string    `db:"summary"`
	KeyPoints               stringList `db:"key_points"`
	Sentiment               *string    `db:"sentiment"`
	Urgency                 *string    `db:"urgency"`
	MedicalNotes            *string    `db:"medical_notes"`
	Recommendations         stringList `db:"recommendations"`
	AnalysisConfidence      *float64   `db:"analysis_confidence"`
	SynthesisAudioPath      *string    `db:"synthesis_audio_path"`
	ResultsOrphaned         bool       `db:"results_orphaned"`

	FailureReason *string `db:"failure_reason"`

	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *callRecord) toDomain() domain.Call {
	call := domain.Call{
		ID:          r.ID,
		PatientID:   r.PatientID,
		OperatorID:  r.OperatorID,
		PhoneNumber: r.PhoneNumber,
		Status:      domain.CallStatus(r.Status),

		ScheduledAt:  r.ScheduledAt,
		NextAttempt:  r.NextAttempt,
		AttemptCount: r.AttemptCount,
		MaxAttempts:  r.MaxAttempts,
		RetryDelay:   time.Duration(r.RetryDelayMS) * time.Millisecond,

		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Duration:  r.Duration,

		AMICallID:   r.AMICallID,
		CloudCallID: r.CloudCallID,

		RecordingPath:     r.RecordingPath,
		RecordingDuration: r.RecordingDuration,
		RecordingQuality:  r.RecordingQuality,

		TranscriptionText:       r.TranscriptionText,
		TranscriptionConfidence: r.TranscriptionConfidence,
		TranscriptionModel:      r.TranscriptionModel,
		Summary:                 r.Summary,
		KeyPoints:               r.KeyPoints,
		Sentiment:               r.Sentiment,
		MedicalNotes:            r.MedicalNotes,
		Recommendations:         r.Recommendations,
		AnalysisConfidence:      r.AnalysisConfidence,
		SynthesisAudioPath:      r.SynthesisAudioPath,
		ResultsOrphaned:         r.ResultsOrphaned,

		FailureReason: r.FailureReason,

		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.Urgency != nil {
		level := domain.UrgencyLevel(*r.Urgency)
		call.Urgency = &level
	}
	return call
}

// toRecord flattens a call into named-query parameters.
func toRecord(call *domain.Call) map[string]interface{} {
	var urgency *string
	if call.Urgency != nil {
		s := string(*call.Urgency)
		urgency = &s
	}

	return map[string]interface{}{
		"id":           call.ID,
		"patient_id":   call.PatientID,
		"operator_id":  call.OperatorID,
		"phone_number": call.PhoneNumber,
		"status":       string(call.Status),

		"scheduled_at":   call.ScheduledAt,
		"next_attempt":   call.NextAttempt,
		"attempt_count":  call.AttemptCount,
		"max_attempts":   call.MaxAttempts,
		"retry_delay_ms": call.RetryDelay.Milliseconds(),

		"started_at": call.StartedAt,
		"ended_at":   call.EndedAt,
		"duration":   call.Duration,

		"ami_call_id":   call.AMICallID,
		"cloud_call_id": call.CloudCallID,

		"recording_path":     call.RecordingPath,
		"recording_duration": call.RecordingDuration,
		"recording_quality":  call.RecordingQuality,

		"transcription_text":       call.TranscriptionText,
		"transcription_confidence": call.TranscriptionConfidence,
		"transcription_model":      call.TranscriptionModel,
		"summary":                  call.Summary,
		"key_points":               stringList(call.KeyPoints),
		"sentiment":                call.Sentiment,
		"urgency":                  urgency,
		"medical_notes":            call.MedicalNotes,
		"recommendations":          stringList(call.Recommendations),
		"analysis_confidence":      call.AnalysisConfidence,
		"synthesis_audio_path":     call.SynthesisAudioPath,
		"results_orphaned":         call.ResultsOrphaned,

		"failure_reason": call.FailureReason,

		"version":    call.Version,
		"created_at": call.CreatedAt,
		"updated_at": call.UpdatedAt,
	}
}
