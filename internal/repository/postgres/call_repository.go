package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/repository"
)

// CallRepository implements repository.CallRegistry using PostgreSQL.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a new repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

const callColumns = `id, patient_id, operator_id, phone_number, status,
	scheduled_at, next_attempt, attempt_count, max_attempts, retry_delay_ms,
	started_at, ended_at, duration,
	ami_call_id, cloud_call_id,
	recording_path, recording_duration, recording_quality,
	transcription_text, transcription_confidence, transcription_model,
	summary, key_points, sentiment, urgency, medical_notes, recommendations,
	analysis_confidence, synthesis_audio_path, results_orphaned,
	failure_reason, version, created_at, updated_at`

// Create inserts a new call at version 1.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	call.Version = 1
	q := `INSERT INTO calls (` + callColumns + `) VALUES (
		:id, :patient_id, :operator_id, :phone_number, :status,
		:scheduled_at, :next_attempt, :attempt_count, :max_attempts, :retry_delay_ms,
		:started_at, :ended_at, :duration,
		:ami_call_id, :cloud_call_id,
		:recording_path, :recording_duration, :recording_quality,
		:transcription_text, :transcription_confidence, :transcription_model,
		:summary, :key_points, :sentiment, :urgency, :medical_notes, :recommendations,
		:analysis_confidence, :synthesis_audio_path, :results_orphaned,
		:failure_reason, :version, :created_at, :updated_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, toRecord(call)); err != nil {
		return fmt.Errorf("call repo: insert: %w", err)
	}
	return nil
}

// Get fetches a call by id.
func (r *CallRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	var record callRecord
	if err := r.db.GetContext(ctx, &record, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}

	call := record.toDomain()
	return &call, nil
}

// GetByExternalID fetches a call by provider-assigned id.
func (r *CallRepository) GetByExternalID(ctx context.Context, provider domain.ProviderKind, externalID string) (*domain.Call, error) {
	column := "cloud_call_id"
	if provider == domain.ProviderAMI {
		column = "ami_call_id"
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE ` + column + ` = $1`

	var record callRecord
	if err := r.db.GetContext(ctx, &record, q, externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get by external id: %w", err)
	}

	call := record.toDomain()
	return &call, nil
}

// Save writes the full call record guarded by a version compare-and-swap.
func (r *CallRepository) Save(ctx context.Context, call *domain.Call) error {
	expected := call.Version
	call.Version = expected + 1
	call.UpdatedAt = time.Now().UTC()

	q := `UPDATE calls SET
		status = :status,
		scheduled_at = :scheduled_at,
		next_attempt = :next_attempt,
		attempt_count = :attempt_count,
		max_attempts = :max_attempts,
		retry_delay_ms = :retry_delay_ms,
		started_at = :started_at,
		ended_at = :ended_at,
		duration = :duration,
		ami_call_id = :ami_call_id,
		cloud_call_id = :cloud_call_id,
		recording_path = :recording_path,
		recording_duration = :recording_duration,
		recording_quality = :recording_quality,
		transcription_text = :transcription_text,
		transcription_confidence = :transcription_confidence,
		transcription_model = :transcription_model,
		summary = :summary,
		key_points = :key_points,
		sentiment = :sentiment,
		urgency = :urgency,
		medical_notes = :medical_notes,
		recommendations = :recommendations,
		analysis_confidence = :analysis_confidence,
		synthesis_audio_path = :synthesis_audio_path,
		results_orphaned = :results_orphaned,
		failure_reason = :failure_reason,
		version = :version,
		updated_at = :updated_at
	 WHERE id = :id AND version = :expected_version`

	params := toRecord(call)
	params["expected_version"] = expected

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		call.Version = expected
		return fmt.Errorf("call repo: save: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		call.Version = expected
		return fmt.Errorf("call repo: rows affected: %w", err)
	}
	if n == 0 {
		call.Version = expected
		return repository.ErrConflict
	}
	return nil
}

// ListDue selects calls ready for (re)execution: scheduled, past their
// scheduled time, and past next_attempt when one is set.
func (r *CallRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + callColumns + ` FROM calls
	 WHERE status = $1
	   AND scheduled_at <= $2
	   AND (next_attempt IS NULL OR next_attempt <= $2)
	 ORDER BY scheduled_at
	 LIMIT $3`

	var records []callRecord
	if err := r.db.SelectContext(ctx, &records, q, domain.CallStatusScheduled, now, limit); err != nil {
		return nil, fmt.Errorf("call repo: list due: %w", err)
	}
	return toDomainList(records), nil
}

// ListByPatient lists a patient's calls, newest first.
func (r *CallRepository) ListByPatient(ctx context.Context, patientID int64, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + callColumns + ` FROM calls
	 WHERE patient_id = $1 ORDER BY scheduled_at DESC LIMIT $2`

	var records []callRecord
	if err := r.db.SelectContext(ctx, &records, q, patientID, limit); err != nil {
		return nil, fmt.Errorf("call repo: list by patient: %w", err)
	}
	return toDomainList(records), nil
}

func toDomainList(records []callRecord) []*domain.Call {
	calls := make([]*domain.Call, 0, len(records))
	for i := range records {
		call := records[i].toDomain()
		calls = append(calls, &call)
	}
	return calls
}
