package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:        endpoint,
		APIKey:          "test-key",
		Model:           "whisper-1",
		Language:        "en",
		Timeout:         5 * time.Second,
		MaxRetries:      0,
		MaxConcurrent:   2,
		MaxPayloadBytes: 1024 * 1024,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}

		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}

		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected model whisper-1, got %s", got)
		}

		if got := r.FormValue("language"); got != "en" {
			t.Errorf("expected language en, got %s", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()

		if header.Filename != "turn.wav" {
			t.Errorf("expected filename turn.wav, got %s", header.Filename)
		}

		json.NewEncoder(w).Encode(map[string]string{"text": "I want to automate invoicing"})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	response, err := client.Transcribe(context.Background(), &Request{
		Audio:    []byte("fake audio"),
		MIMEType: "audio/wav",
		Filename: "turn.wav",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if response.Text != "I want to automate invoicing" {
		t.Errorf("unexpected transcript: %q", response.Text)
	}

	stats := client.GetStats()
	if stats.SuccessRequests != 1 {
		t.Errorf("expected 1 successful request, got %d", stats.SuccessRequests)
	}
}

func TestTranscribeRejectsOversizedPayload(t *testing.T) {
	requests := int64(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		json.NewEncoder(w).Encode(map[string]string{"text": "never reached"})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	oversized := make([]byte, 2*1024*1024)
	_, err := client.Transcribe(context.Background(), &Request{
		Audio:    oversized,
		MIMEType: "audio/wav",
	})

	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}

	if n := atomic.LoadInt64(&requests); n != 0 {
		t.Errorf("oversized payload must not be uploaded, saw %d requests", n)
	}

	if stats := client.GetStats(); stats.RejectedTooBig != 1 {
		t.Errorf("expected 1 rejected payload, got %d", stats.RejectedTooBig)
	}
}

func TestTranscribeEmptyTextIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "   "})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	_, err := client.Transcribe(context.Background(), &Request{
		Audio:    []byte("fake audio"),
		MIMEType: "audio/wav",
	})

	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	attempts := int64(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&attempts, 1) == 1 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "recovered"})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:        server.URL,
		APIKey:          "test-key",
		Model:           "whisper-1",
		Timeout:         5 * time.Second,
		MaxRetries:      2,
		MaxConcurrent:   1,
		MaxPayloadBytes: 1024 * 1024,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	response, err := client.Transcribe(context.Background(), &Request{
		Audio:    []byte("fake audio"),
		MIMEType: "audio/wav",
	})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}

	if response.Text != "recovered" {
		t.Errorf("unexpected transcript: %q", response.Text)
	}

	if n := atomic.LoadInt64(&attempts); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}

	if stats := client.GetStats(); stats.TotalRetries != 1 {
		t.Errorf("expected 1 retry recorded, got %d", stats.TotalRetries)
	}
}

func TestTranscribeClientErrorNotRetried(t *testing.T) {
	attempts := int64(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&attempts, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:        server.URL,
		APIKey:          "test-key",
		Model:           "whisper-1",
		Timeout:         5 * time.Second,
		MaxRetries:      3,
		MaxConcurrent:   1,
		MaxPayloadBytes: 1024 * 1024,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.Transcribe(context.Background(), &Request{
		Audio:    []byte("fake audio"),
		MIMEType: "audio/wav",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if n := atomic.LoadInt64(&attempts); n != 1 {
		t.Errorf("4xx must not be retried, saw %d attempts", n)
	}
}

func TestTranscribeUnknownMIMEUploadedAnyway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "still worked"})
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	defer client.Close()

	response, err := client.Transcribe(context.Background(), &Request{
		Audio:    []byte("mystery codec"),
		MIMEType: "audio/x-unknown",
	})
	if err != nil {
		t.Fatalf("unknown MIME type must still be attempted: %v", err)
	}

	if response.Text != "still worked" {
		t.Errorf("unexpected transcript: %q", response.Text)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}, testLogger()); err == nil {
		t.Error("expected error for empty endpoint")
	}

	if _, err := NewClient(Config{Endpoint: "http://x"}, testLogger()); err == nil {
		t.Error("expected error for empty API key")
	}
}
