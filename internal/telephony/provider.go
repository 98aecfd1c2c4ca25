package telephony

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/domain"
)

// Handle identifies an in-flight call at a specific provider.
type Handle struct {
	Provider   domain.ProviderKind
	ExternalID string
}

// State is a provider-reported call state.
type State string

const (
	StateRinging State = "ringing"
	StateUp      State = "up"
	StateDown    State = "down"
	StateUnknown State = "unknown"
)

// Provider abstracts a telephony backend capable of originating and
// hanging up calls. Connection-level failures are reported as
// errors.ErrProviderUnavailable; per-call rejections as
// errors.ErrOriginationFailed.
type Provider interface {
	Name() domain.ProviderKind
	Originate(ctx context.Context, callID uuid.UUID, phoneNumber string) (Handle, error)
	Hangup(ctx context.Context, handle Handle) error
	Status(ctx context.Context, handle Handle) (State, error)
}
