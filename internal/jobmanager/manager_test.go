package jobmanager

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/cache"
	"github.com/yungbote/mediapipe-orchestrator/internal/clients/remote"
	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
	"github.com/yungbote/mediapipe-orchestrator/internal/pipeline"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
	"github.com/yungbote/mediapipe-orchestrator/internal/store"
)

func newTestManagerStore(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	log, err := newTestLogger(t)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	st, err := store.New(cache.NewFromClient(log, rdb), log, store.Config{
		Prefix:   "task",
		CacheTTL: time.Hour,
		DiskDir:  t.TempDir(),
		DiskTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

func newTestLogger(t *testing.T) (*logger.Logger, error) {
	t.Helper()
	return logger.New("development")
}

func fakeSovitsWorker(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/run"):
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "job-1"})
		case strings.Contains(r.URL.Path, "/status/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "COMPLETED",
				"output": map[string]any{"output_key": "out/voice.wav"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func fakeRemoteClient(t *testing.T, url string) *remote.Client {
	t.Helper()
	c, err := remote.New(remote.Config{
		EndpointID: "ep",
		APIKey:     "key",
		BaseURL:    url,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return c
}

func TestSubmitThenWaitForCompletionRoundTrips(t *testing.T) {
	st := newTestManagerStore(t)
	srv := fakeSovitsWorker(t)
	defer srv.Close()
	log, _ := newTestLogger(t)

	m := New(pipeline.Workers{Sovits: fakeRemoteClient(t, srv.URL)}, st, Config{
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   5 * time.Second,
	}, log)

	taskID, err := m.Submit(t.Context(), domain.PipelineRequest{
		ScriptText:        "hello world",
		ReferenceAudioKey: "ref/voice.wav",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID == "" {
		t.Fatalf("expected non-empty task id")
	}

	rec, err := m.WaitForCompletion(t.Context(), taskID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %v (error=%v)", rec.Status, rec.Error)
	}
}

func TestSubmitRejectsUnconfiguredWorker(t *testing.T) {
	st := newTestManagerStore(t)
	log, _ := newTestLogger(t)
	m := New(pipeline.Workers{}, st, Config{PollInterval: time.Second, JobTimeout: time.Second}, log)

	_, err := m.Submit(t.Context(), domain.PipelineRequest{ScriptText: "hi", ReferenceAudioKey: "ref"})
	se, ok := err.(*pipeline.StageError)
	if !ok || se.Tag != pipeline.TagSovitsNotConfigured {
		t.Fatalf("expected SovitsNotConfigured, got %#v", err)
	}
}

func TestWaitForCompletionReturnsNotFound(t *testing.T) {
	st := newTestManagerStore(t)
	log, _ := newTestLogger(t)
	m := New(pipeline.Workers{}, st, Config{PollInterval: time.Second, JobTimeout: time.Second}, log)

	_, err := m.WaitForCompletion(t.Context(), "no-such-task", time.Second)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	st := newTestManagerStore(t)
	log, _ := newTestLogger(t)
	m := New(pipeline.Workers{}, st, Config{PollInterval: time.Second, JobTimeout: time.Second}, log)

	now := domain.NowISO(time.Now())
	rec := domain.TaskRecord{
		TaskID:    "stuck-task",
		Stage:     domain.StageSovits,
		CreatedAt: now,
		UpdatedAt: now,
		Progress:  []domain.ProgressEntry{},
	}
	rec.SetStatus(domain.StatusRunning)
	if _, err := st.Write(t.Context(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, err := m.WaitForCompletion(t.Context(), "stuck-task", 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
