package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Client talks to a Piper-style speech synthesis service and stores the
// produced audio locally.
type Client struct {
	endpoint string
	dir      string
	client   *http.Client
}

// NewClient constructs a synthesis client writing audio under dir.
func NewClient(endpoint, dir string) *Client {
	return &Client{endpoint: endpoint, dir: dir, client: &http.Client{}}
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// Synthesize converts text to speech and returns the local audio path.
func (c *Client) Synthesize(ctx context.Context, callID uuid.UUID, text string) (string, error) {
	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: tts: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts: http %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("tts: create dir: %w", err)
	}

	path := filepath.Join(c.dir, callID.String()+"_summary.wav")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("tts: create file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("tts: write file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("tts: close file: %w", err)
	}
	return path, nil
}
