package cloudcall

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/signature"
	"github.com/acme/followup-call-service/internal/telephony"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Provider drives the cloud callback telephony service over signed HTTP
// REST. Every request carries a signature parameter computed as
// MD5(sorted params + secret).
type Provider struct {
	cfg    config.CloudConfig
	client *http.Client
}

// NewProvider constructs the cloud adapter.
func NewProvider(cfg config.CloudConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name identifies the adapter.
func (p *Provider) Name() domain.ProviderKind {
	return domain.ProviderCloud
}

type apiResponse struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// Originate requests a callback between the service number and the patient.
func (p *Provider) Originate(ctx context.Context, callID uuid.UUID, phoneNumber string) (telephony.Handle, error) {
	params := map[string]string{
		"from":    p.cfg.FromNumber,
		"to":      phoneNumber,
		"call_id": callID.String(),
	}

	resp, err := p.post(ctx, "/v1/request/callback/", params)
	if err != nil {
		return telephony.Handle{}, err
	}
	if resp.Status != "success" {
		return telephony.Handle{}, fmt.Errorf("%w: %s", apperrors.ErrOriginationFailed, resp.Message)
	}

	return telephony.Handle{Provider: domain.ProviderCloud, ExternalID: resp.CallID}, nil
}

// Hangup terminates an in-flight callback.
func (p *Provider) Hangup(ctx context.Context, handle telephony.Handle) error {
	params := map[string]string{"call_id": handle.ExternalID}

	resp, err := p.post(ctx, "/v1/request/callback/hangup/", params)
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("cloudcall: hangup rejected: %s", resp.Message)
	}
	return nil
}

// Status queries the service for the callback state.
func (p *Provider) Status(ctx context.Context, handle telephony.Handle) (telephony.State, error) {
	params := map[string]string{"call_id": handle.ExternalID}

	resp, err := p.get(ctx, "/v1/request/callback/status/", params)
	if err != nil {
		return telephony.StateUnknown, err
	}

	switch resp.State {
	case "ringing":
		return telephony.StateRinging, nil
	case "answered", "up":
		return telephony.StateUp, nil
	case "ended", "down":
		return telephony.StateDown, nil
	default:
		return telephony.StateUnknown, nil
	}
}

func (p *Provider) post(ctx context.Context, path string, params map[string]string) (*apiResponse, error) {
	body := p.signedValues(params).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cloudcall: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

func (p *Provider) get(ctx context.Context, path string, params map[string]string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("cloudcall: build request: %w", err)
	}
	req.URL.RawQuery = p.signedValues(params).Encode()
	return p.do(req)
}

func (p *Provider) signedValues(params map[string]string) url.Values {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("signature", signature.Compute(params, p.cfg.Secret))
	return values
}

func (p *Provider) do(req *http.Request) (*apiResponse, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: http %d", apperrors.ErrProviderUnavailable, resp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("cloudcall: decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", apperrors.ErrOriginationFailed, resp.StatusCode, decoded.Message)
	}
	return &decoded, nil
}
