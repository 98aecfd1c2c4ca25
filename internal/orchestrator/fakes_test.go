package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/queue"
	"github.com/acme/followup-call-service/internal/repository"
	"github.com/acme/followup-call-service/internal/telephony"
	"github.com/acme/followup-call-service/pkg/logger"
)

// memRegistry is an in-memory CallRegistry with the same version CAS
// semantics as the postgres implementation.
type memRegistry struct {
	mu    sync.Mutex
	calls map[uuid.UUID]domain.Call

	// failSaves injects that many conflicts before Save succeeds.
	failSaves int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{calls: make(map[uuid.UUID]domain.Call)}
}

func (r *memRegistry) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call.Version = 1
	r.calls[call.ID] = *call
	return nil
}

func (r *memRegistry) Get(ctx context.Context, id uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := call
	return &copied, nil
}

func (r *memRegistry) GetByExternalID(ctx context.Context, provider domain.ProviderKind, externalID string) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.calls {
		switch provider {
		case domain.ProviderAMI:
			if call.AMICallID != nil && *call.AMICallID == externalID {
				copied := call
				return &copied, nil
			}
		case domain.ProviderCloud:
			if call.CloudCallID != nil && *call.CloudCallID == externalID {
				copied := call
				return &copied, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRegistry) Save(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.calls[call.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.failSaves > 0 {
		r.failSaves--
		return repository.ErrConflict
	}
	if stored.Version != call.Version {
		return repository.ErrConflict
	}
	call.Version++
	call.UpdatedAt = time.Now().UTC()
	r.calls[call.ID] = *call
	return nil
}

func (r *memRegistry) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domain.Call
	for _, call := range r.calls {
		if call.IsDue(now) {
			copied := call
			due = append(due, &copied)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *memRegistry) ListByPatient(ctx context.Context, patientID int64, limit int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []*domain.Call
	for _, call := range r.calls {
		if call.PatientID == patientID {
			copied := call
			calls = append(calls, &copied)
		}
	}
	return calls, nil
}

// put overwrites stored call state directly, for test setup.
func (r *memRegistry) put(call domain.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.ID] = call
}

type memJournal struct {
	mu     sync.Mutex
	events []domain.CallEvent
}

func (j *memJournal) Append(ctx context.Context, event domain.CallEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	return nil
}

// noopLocker satisfies Locker for single-process tests.
type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, callID uuid.UUID) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

func (noopLocker) Wait(ctx context.Context, callID uuid.UUID) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// stubProvider scripts originate outcomes and records hangups.
type stubProvider struct {
	kind       domain.ProviderKind
	originate  func(callID uuid.UUID) (telephony.Handle, error)
	originated int
	hangups    []telephony.Handle
}

func (p *stubProvider) Name() domain.ProviderKind { return p.kind }

func (p *stubProvider) Originate(ctx context.Context, callID uuid.UUID, phoneNumber string) (telephony.Handle, error) {
	p.originated++
	return p.originate(callID)
}

func (p *stubProvider) Hangup(ctx context.Context, handle telephony.Handle) error {
	p.hangups = append(p.hangups, handle)
	return nil
}

func (p *stubProvider) Status(ctx context.Context, handle telephony.Handle) (telephony.State, error) {
	return telephony.StateUnknown, nil
}

type capturePublisher struct {
	mu        sync.Mutex
	completed []queue.CompletedMessage
	alerts    []queue.AlertMessage
}

func (p *capturePublisher) PublishCompleted(ctx context.Context, msg queue.CompletedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, msg)
	return nil
}

func (p *capturePublisher) PublishAlert(ctx context.Context, msg queue.AlertMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, msg)
	return nil
}

type stubRecordings struct {
	path    string
	quality string
	err     error
	fetches int
}

func (s *stubRecordings) Fetch(ctx context.Context, callID uuid.UUID, url string) (string, string, error) {
	s.fetches++
	return s.path, s.quality, s.err
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}
