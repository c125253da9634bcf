package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Model:        "motion-swap-1.5",
		PollInterval: time.Millisecond,
		PollDeadline: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeTask(w http.ResponseWriter, id string, status TaskStatus, videoURL string) {
	var envelope taskEnvelope
	envelope.Task.ID = id
	envelope.Task.Status = status
	envelope.Task.Output.VideoURL = videoURL
	envelope.Task.Output.Format = "video/mp4"
	_ = json.NewEncoder(w).Encode(envelope)
}

func TestGenerateSubmitPollDownload(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /motion-swap/tasks", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		var body submitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit body: %v", err)
		}
		if body.Model != "motion-swap-1.5" || body.VideoURL == "" || body.CharacterImageURL == "" {
			t.Errorf("unexpected submit body %+v", body)
		}
		writeTask(w, "task-42", TaskQueued, "")
	})
	mux.HandleFunc("GET /motion-swap/tasks/task-42", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeTask(w, "task-42", TaskRunning, "")
			return
		}
		writeTask(w, "task-42", TaskSucceeded, srv.URL+"/artifacts/task-42.mp4")
	})
	mux.HandleFunc("GET /artifacts/task-42.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("generated-bytes"))
	})

	client := newTestClient(t, srv.URL)
	result, err := client.Generate(context.Background(), Request{
		VideoURL:          "https://cdn.example.com/in.mp4",
		CharacterImageURL: "https://cdn.example.com/char.png",
		RequestID:         "gen-1",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(result.Data) != "generated-bytes" {
		t.Fatalf("data = %q", result.Data)
	}
	if result.Format != "video/mp4" {
		t.Fatalf("format = %q", result.Format)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestGenerateSurfacesServerErrorWithRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"code":"internal","message":"shard unavailable"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Generate(context.Background(), Request{
		VideoURL:          "https://cdn.example.com/in.mp4",
		CharacterImageURL: "https://cdn.example.com/char.png",
	})

	var swapErr *Error
	if !errors.As(err, &swapErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if swapErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", swapErr.StatusCode)
	}
	if swapErr.Code != "internal" || swapErr.Message != "shard unavailable" {
		t.Fatalf("unexpected error fields %+v", swapErr)
	}
	if !strings.Contains(swapErr.Details, "shard unavailable") {
		t.Fatalf("details must keep the raw body, got %q", swapErr.Details)
	}
}

func TestGenerateTaskFailureCarriesProviderDiagnostics(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /motion-swap/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeTask(w, "task-7", TaskQueued, "")
	})
	mux.HandleFunc("GET /motion-swap/tasks/task-7", func(w http.ResponseWriter, r *http.Request) {
		var envelope taskEnvelope
		envelope.Task.ID = "task-7"
		envelope.Task.Status = TaskFailed
		envelope.Task.Error.Code = "insufficient_motion"
		envelope.Task.Error.Message = "not enough motion detected"
		_ = json.NewEncoder(w).Encode(envelope)
	})

	client := newTestClient(t, srv.URL)
	_, err := client.Generate(context.Background(), Request{
		VideoURL:          "https://cdn.example.com/in.mp4",
		CharacterImageURL: "https://cdn.example.com/char.png",
	})

	var swapErr *Error
	if !errors.As(err, &swapErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if swapErr.Code != "insufficient_motion" || swapErr.Message != "not enough motion detected" {
		t.Fatalf("unexpected error %+v", swapErr)
	}
	if !strings.Contains(swapErr.Details, "task-7") {
		t.Fatalf("details must carry the task snapshot, got %q", swapErr.Details)
	}
	if swapErr.StatusCode != 0 {
		t.Fatalf("task-level failure must not carry a transport status, got %d", swapErr.StatusCode)
	}
}

func TestGeneratePollDeadline(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /motion-swap/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeTask(w, "task-9", TaskQueued, "")
	})
	mux.HandleFunc("GET /motion-swap/tasks/task-9", func(w http.ResponseWriter, r *http.Request) {
		writeTask(w, "task-9", TaskRunning, "")
	})

	client, err := NewClient(Options{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		PollDeadline: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Generate(context.Background(), Request{
		VideoURL:          "https://cdn.example.com/in.mp4",
		CharacterImageURL: "https://cdn.example.com/char.png",
	})

	var swapErr *Error
	if !errors.As(err, &swapErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if swapErr.Code != "poll_deadline_exceeded" {
		t.Fatalf("code = %q", swapErr.Code)
	}
}

func TestGenerateRejectsMissingInputs(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")
	_, err := client.Generate(context.Background(), Request{VideoURL: "https://cdn.example.com/in.mp4"})

	var swapErr *Error
	if !errors.As(err, &swapErr) || swapErr.Code != "missing_input" {
		t.Fatalf("expected missing_input error, got %v", err)
	}
}

func TestGenerateContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("POST /motion-swap/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeTask(w, "task-3", TaskQueued, "")
	})
	var polled atomic.Bool
	mux.HandleFunc("GET /motion-swap/tasks/task-3", func(w http.ResponseWriter, r *http.Request) {
		polled.Store(true)
		writeTask(w, "task-3", TaskRunning, "")
	})

	client, err := NewClient(Options{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: time.Hour,
		PollDeadline: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, genErr := client.Generate(ctx, Request{
			VideoURL:          "https://cdn.example.com/in.mp4",
			CharacterImageURL: "https://cdn.example.com/char.png",
		})
		done <- genErr
	}()

	for !polled.Load() {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case genErr := <-done:
		var swapErr *Error
		if !errors.As(genErr, &swapErr) {
			t.Fatalf("expected *Error, got %v", genErr)
		}
		// Cancellation lands either between polls ("cancelled") or while a
		// poll request is in flight ("transport").
		if swapErr.Code != "cancelled" && swapErr.Code != "transport" {
			t.Fatalf("unexpected code %q: %v", swapErr.Code, genErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestNewHTTPClientDefaultTimeout(t *testing.T) {
	if got := NewHTTPClient(0).Timeout; got != DefaultCallTimeout {
		t.Fatalf("default timeout = %s, want %s", got, DefaultCallTimeout)
	}
	if got := NewHTTPClient(time.Minute).Timeout; got != time.Minute {
		t.Fatalf("timeout = %s, want 1m", got)
	}
}
