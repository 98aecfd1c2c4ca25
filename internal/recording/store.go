package recording

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Quality flags attached to stored recordings.
const (
	QualityGood   = "good"
	QualityFailed = "failed"
)

// Store downloads provider recordings into a local directory. Files are
// named <callID>.wav so the pipeline can locate them without extra
// bookkeeping.
type Store struct {
	dir    string
	client *http.Client
}

// NewStore constructs a recording store rooted at dir.
func NewStore(dir string, fetchTimeout time.Duration) *Store {
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}
	return &Store{
		dir:    dir,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch downloads url into the store. It always returns a quality flag;
// on failure the flag is "failed" and path is empty.
func (s *Store) Fetch(ctx context.Context, callID uuid.UUID, url string) (string, string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", QualityFailed, fmt.Errorf("recording store: create dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", QualityFailed, fmt.Errorf("recording store: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", QualityFailed, fmt.Errorf("recording store: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", QualityFailed, fmt.Errorf("recording store: download: http %d", resp.StatusCode)
	}

	path := s.Path(callID)
	out, err := os.Create(path)
	if err != nil {
		return "", QualityFailed, fmt.Errorf("recording store: create file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(path)
		return "", QualityFailed, fmt.Errorf("recording store: write file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", QualityFailed, fmt.Errorf("recording store: close file: %w", err)
	}

	return path, QualityGood, nil
}

// Path returns the canonical local path for a call's recording.
func (s *Store) Path(callID uuid.UUID) string {
	return filepath.Join(s.dir, callID.String()+".wav")
}
