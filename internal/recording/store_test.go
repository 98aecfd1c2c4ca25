package recording

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFetchStoresRecording(t *testing.T) {
	payload := []byte("RIFF....WAVEfmt ")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), 5*time.Second)
	callID := uuid.New()

	path, quality, err := store.Fetch(context.Background(), callID, srv.URL+"/rec/abc.wav")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if quality != QualityGood {
		t.Errorf("quality = %q, want %q", quality, QualityGood)
	}
	if path != store.Path(callID) {
		t.Errorf("path = %q, want %q", path, store.Path(callID))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("stored bytes differ from served bytes")
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir(), 5*time.Second)
	path, quality, err := store.Fetch(context.Background(), uuid.New(), srv.URL+"/rec/missing.wav")
	if err == nil {
		t.Fatal("expected error for http 404")
	}
	if quality != QualityFailed {
		t.Errorf("quality = %q, want %q", quality, QualityFailed)
	}
	if path != "" {
		t.Errorf("path = %q, want empty on failure", path)
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	store := NewStore(t.TempDir(), time.Second)
	_, quality, err := store.Fetch(context.Background(), uuid.New(), "http://127.0.0.1:1/rec.wav")
	if err == nil {
		t.Fatal("expected error for unreachable host")
	}
	if quality != QualityFailed {
		t.Errorf("quality = %q, want %q", quality, QualityFailed)
	}
}
