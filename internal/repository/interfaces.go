package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates an optimistic-concurrency collision; callers
	// must re-read and retry their own mutation.
	ErrConflict = apperrors.ErrPersistenceConflict
)

// CallRegistry is the authoritative store of Call records. Save performs
// a compare-and-swap on the record version and reports ErrConflict when
// the stored version moved underneath the caller.
type CallRegistry interface {
	Create(ctx context.Context, call *domain.Call) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Call, error)
	GetByExternalID(ctx context.Context, provider domain.ProviderKind, externalID string) (*domain.Call, error)
	Save(ctx context.Context, call *domain.Call) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error)
	ListByPatient(ctx context.Context, patientID int64, limit int) ([]*domain.Call, error)
}

// EventJournal appends call activity records for audit retention. It is
// never read on the hot path.
type EventJournal interface {
	Append(ctx context.Context, event domain.CallEvent) error
}
