package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	apperrors "github.com/acme/followup-call-service/pkg/errors"
)

// Segment is one recognized span of speech with its model log
// probability.
type Segment struct {
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

// Transcript is the raw transcription service response.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Confidence converts segment log probabilities to a 0..1 score: the
// mean over segments of exp(avg_logprob). A transcript with no segments
// scores 0.
func Confidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0.0
	}
	var sum float64
	for _, seg := range segments {
		sum += math.Exp(seg.AvgLogProb)
	}
	return sum / float64(len(segments))
}

// Client talks to a Whisper-style transcription service over HTTP.
type Client struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewClient constructs a transcription client. Timeouts come from the
// caller's context, one per pipeline stage.
func NewClient(endpoint, model string) *Client {
	return &Client{endpoint: endpoint, model: model, client: &http.Client{}}
}

// Model reports the configured model identifier, recorded alongside
// transcription results.
func (c *Client) Model() string {
	return c.model
}

// Transcribe uploads the audio file and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (*Transcript, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stt: open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("stt: build form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("stt: copy audio: %w", err)
	}
	if c.model != "" {
		if err := writer.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("stt: build form: %w", err)
		}
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("stt: build form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("stt: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stt: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stt: http %d", resp.StatusCode)
	}

	var transcript Transcript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		return nil, fmt.Errorf("stt: decode response: %w", err)
	}
	return &transcript, nil
}
