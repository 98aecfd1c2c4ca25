package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/orchestrator"
)

type scheduleCallRequest struct {
	PatientID   int64      `json:"patient_id"`
	OperatorID  int64      `json:"operator_id"`
	PhoneNumber string     `json:"phone_number"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	MaxAttempts int        `json:"max_attempts"`
	RetryDelayS int64      `json:"retry_delay_seconds"`
}

type callResponse struct {
	ID           uuid.UUID         `json:"id"`
	PatientID    int64             `json:"patient_id"`
	OperatorID   int64             `json:"operator_id"`
	PhoneNumber  string            `json:"phone_number"`
	Status       domain.CallStatus `json:"status"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	NextAttempt  *time.Time        `json:"next_attempt,omitempty"`
	AttemptCount int               `json:"attempt_count"`
	MaxAttempts  int               `json:"max_attempts"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Duration     *int64            `json:"duration_seconds,omitempty"`

	RecordingPath *string `json:"recording_path,omitempty"`

	TranscriptionText       *string              `json:"transcription_text,omitempty"`
	TranscriptionConfidence *float64             `json:"transcription_confidence,omitempty"`
	Summary                 *string              `json:"summary,omitempty"`
	KeyPoints               []string             `json:"key_points,omitempty"`
	Sentiment               *string              `json:"sentiment,omitempty"`
	Urgency                 *domain.UrgencyLevel `json:"urgency,omitempty"`
	MedicalNotes            *string              `json:"medical_notes,omitempty"`
	Recommendations         []string             `json:"recommendations,omitempty"`
	SynthesisAudioPath      *string              `json:"synthesis_audio_path,omitempty"`
	ResultsOrphaned         bool                 `json:"results_orphaned,omitempty"`

	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (h *HandlerSet) scheduleCall(ctx *fiber.Ctx) error {
	var req scheduleCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := orchestrator.ScheduleInput{
		PatientID:   req.PatientID,
		OperatorID:  req.OperatorID,
		PhoneNumber: req.PhoneNumber,
		MaxAttempts: req.MaxAttempts,
		RetryDelay:  time.Duration(req.RetryDelayS) * time.Second,
	}
	if req.ScheduledAt != nil {
		input.ScheduledAt = req.ScheduledAt.UTC()
	}

	call, err := h.orch.Schedule(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCallResponse(call))
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	call, err := h.orch.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(call))
}

func (h *HandlerSet) cancelCall(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	call, err := h.orch.Cancel(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(call))
}

func (h *HandlerSet) listPatientCalls(ctx *fiber.Ctx) error {
	patientID, err := ctx.ParamsInt("id")
	if err != nil || patientID <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid patient id")
	}

	limit := ctx.QueryInt("limit", 50)
	calls, err := h.orch.ListByPatient(ctx.Context(), int64(patientID), limit)
	if err != nil {
		return translateError(err)
	}

	responses := make([]callResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, toCallResponse(call))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"calls": responses})
}

func toCallResponse(call *domain.Call) callResponse {
	return callResponse{
		ID:           call.ID,
		PatientID:    call.PatientID,
		OperatorID:   call.OperatorID,
		PhoneNumber:  call.PhoneNumber,
		Status:       call.Status,
		ScheduledAt:  call.ScheduledAt,
		NextAttempt:  call.NextAttempt,
		AttemptCount: call.AttemptCount,
		MaxAttempts:  call.MaxAttempts,
		StartedAt:    call.StartedAt,
		EndedAt:      call.EndedAt,
		Duration:     call.Duration,

		RecordingPath: call.RecordingPath,

		TranscriptionText:       call.TranscriptionText,
		TranscriptionConfidence: call.TranscriptionConfidence,
		Summary:                 call.Summary,
		KeyPoints:               call.KeyPoints,
		Sentiment:               call.Sentiment,
		Urgency:                 call.Urgency,
		MedicalNotes:            call.MedicalNotes,
		Recommendations:         call.Recommendations,
		SynthesisAudioPath:      call.SynthesisAudioPath,
		ResultsOrphaned:         call.ResultsOrphaned,

		FailureReason: call.FailureReason,
		CreatedAt:     call.CreatedAt,
		UpdatedAt:     call.UpdatedAt,
	}
}
