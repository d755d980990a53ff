package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{
		EndpointID: "ep-1",
		APIKey:     "secret",
		BaseURL:    url,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSanitizeConfigStringRejectsEmpty(t *testing.T) {
	if _, err := sanitizeConfigString("   \x01\x02  "); err == nil {
		t.Fatalf("expected error for all-control-character input")
	}
}

func TestSubmitExtractsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ep-1/run" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["input"]; !ok {
			t.Fatalf("expected input key in body, got %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "job-123"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	jobID, err := c.Submit(t.Context(), map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-123" {
		t.Fatalf("expected job-123, got %q", jobID)
	}
}

func TestSubmitMissingIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Submit(t.Context(), map[string]any{}); err == nil {
		t.Fatalf("expected error when response has no id/jobId/job_id")
	} else if se, ok := err.(*Error); !ok || se.Tag != TagSubmitFailed {
		t.Fatalf("expected SubmitFailed tag, got %#v", err)
	}
}

func TestStatusFallsBackToPostOn405(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "COMPLETED", "output": map[string]any{"ok": true}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	status, err := c.Status(t.Context(), "job-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status["status"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %v", status)
	}
}

func TestWaitSucceedsOnCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "COMPLETED_SUCCESS",
			"output": map[string]any{"output_key": "out/a.wav"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	status, err := c.Wait(t.Context(), "job-1", 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	out, _ := status["output"].(map[string]any)
	if out["output_key"] != "out/a.wav" {
		t.Fatalf("unexpected output: %v", out)
	}
}

// TestWaitOutputErrorBeatsTag verifies S4: a FAILED tag with an
// output.error mapping fails with OutputError, not JobFailed, since the
// output-error rule is checked before the tag rule (spec §4.1).
func TestWaitOutputErrorBeatsTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "FAILED",
			"output": map[string]any{"error": "oom"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Wait(t.Context(), "job-1", 10*time.Millisecond, time.Second)
	se, ok := err.(*Error)
	if !ok || se.Tag != TagOutputError {
		t.Fatalf("expected OutputError, got %#v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "IN_QUEUE"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	start := time.Now()
	_, err := c.Wait(t.Context(), "job-1", 200*time.Millisecond, 300*time.Millisecond)
	elapsed := time.Since(start)

	se, ok := err.(*Error)
	if !ok || se.Tag != TagJobTimeout {
		t.Fatalf("expected JobTimeout, got %#v", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}
