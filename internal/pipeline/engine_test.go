package pipeline

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
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
	"github.com/yungbote/mediapipe-orchestrator/internal/store"
)

// fakeWorker serves a submit/status pair terminal on the first status poll,
// mirroring the shape the Remote Job Client expects from a RunPod-style
// endpoint.
func fakeWorker(t *testing.T, output map[string]any) *httptest.Server {
	t.Helper()
	jobID := "job-1"
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/run"):
			_ = json.NewEncoder(w).Encode(map[string]any{"id": jobID})
		case strings.Contains(r.URL.Path, "/status/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "COMPLETED",
				"output": output,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func fakeClient(t *testing.T, srv *httptest.Server) *remote.Client {
	t.Helper()
	c, err := remote.New(remote.Config{
		EndpointID: "ep",
		APIKey:     "key",
		BaseURL:    srv.URL,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return c
}

func newTestEngineStore(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	log, err := logger.New("development")
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

func submitTask(t *testing.T, st *store.Store, taskID string, req domain.PipelineRequest) {
	t.Helper()
	now := domain.NowISO(time.Now())
	rec := domain.TaskRecord{
		TaskID:    taskID,
		Stage:     domain.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req,
		Progress:  []domain.ProgressEntry{},
	}
	rec.SetStatus(domain.StatusQueued)
	if _, err := st.Write(t.Context(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// TestRunAudioOnly covers S1: script_text with no visual input runs only the
// SoVITS stage and completes with the "Audio-only pipeline completed"
// message.
func TestRunAudioOnly(t *testing.T) {
	st := newTestEngineStore(t)
	sovits := fakeWorker(t, map[string]any{"output_key": "out/voice.wav"})
	defer sovits.Close()

	e := New(Workers{Sovits: fakeClient(t, sovits)}, st, 10*time.Millisecond, 5*time.Second, testLogger(t))

	req := domain.PipelineRequest{ScriptText: "hello world", ReferenceAudioKey: "ref/voice.wav"}
	submitTask(t, st, "task-s1", req)

	e.Run(t.Context(), "task-s1")

	rec, err := st.Get(t.Context(), "task-s1")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v rec=%v", err, rec)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %v error=%v", rec.Status, rec.Error)
	}
	if rec.Progress[len(rec.Progress)-1].Message != "Audio-only pipeline completed" {
		t.Fatalf("expected audio-only completion message, got %q", rec.Progress[len(rec.Progress)-1].Message)
	}
}

// TestRunLipSyncOnly covers S2: a request with no script_text but an
// audio_key and target_key runs only the Wav2Lip stage.
func TestRunLipSyncOnly(t *testing.T) {
	st := newTestEngineStore(t)
	wav2lip := fakeWorker(t, map[string]any{"output_url": "out/video.mp4"})
	defer wav2lip.Close()

	e := New(Workers{Wav2Lip: fakeClient(t, wav2lip)}, st, 10*time.Millisecond, 5*time.Second, testLogger(t))

	req := domain.PipelineRequest{TargetKey: "target/face.mp4", AudioKey: "audio/in.wav"}
	submitTask(t, st, "task-s2", req)

	e.Run(t.Context(), "task-s2")

	rec, err := st.Get(t.Context(), "task-s2")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v rec=%v", err, rec)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %v error=%v", rec.Status, rec.Error)
	}
	if rec.Stage != domain.StageCompleted {
		t.Fatalf("expected completed stage, got %v", rec.Stage)
	}
}

// TestRunFullChainRetainsIntermediate covers S3: script_text + target_key +
// source_keys runs all three stages, and retain_intermediate surfaces the
// per-stage outputs alongside the final result.
func TestRunFullChainRetainsIntermediate(t *testing.T) {
	st := newTestEngineStore(t)
	sovits := fakeWorker(t, map[string]any{"output_key": "out/voice.wav"})
	wav2lip := fakeWorker(t, map[string]any{"output_url": "out/lipsynced.mp4"})
	facefusion := fakeWorker(t, map[string]any{"output_key": "out/final.mp4"})
	defer sovits.Close()
	defer wav2lip.Close()
	defer facefusion.Close()

	e := New(Workers{
		Sovits:     fakeClient(t, sovits),
		Wav2Lip:    fakeClient(t, wav2lip),
		FaceFusion: fakeClient(t, facefusion),
	}, st, 10*time.Millisecond, 5*time.Second, testLogger(t))

	req := domain.PipelineRequest{
		ScriptText:         "hello world",
		ReferenceAudioKey:  "ref/voice.wav",
		TargetKey:          "target/face.mp4",
		SourceKeys:         []string{"source/face.jpg"},
		RetainIntermediate: true,
	}
	submitTask(t, st, "task-s3", req)

	e.Run(t.Context(), "task-s3")

	rec, err := st.Get(t.Context(), "task-s3")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v rec=%v", err, rec)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %v error=%v", rec.Status, rec.Error)
	}
	result, ok := rec.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %#v", rec.Result)
	}
	if result["output_key"] != "out/final.mp4" {
		t.Fatalf("expected facefusion output as final result, got %v", result)
	}
	intermediate, ok := result["intermediate"].(map[string]any)
	if !ok {
		t.Fatalf("expected retained intermediate map, got %#v", result["intermediate"])
	}
	if _, ok := intermediate["sovits"]; !ok {
		t.Fatalf("expected sovits key in intermediate, got %v", intermediate)
	}
	if _, ok := intermediate["wav2lip"]; !ok {
		t.Fatalf("expected wav2lip key in intermediate, got %v", intermediate)
	}
}

// TestPlanRejectsEmptyRequest covers the invalid-request edge case: neither
// script_text nor a visual input selects any stage.
func TestPlanRejectsEmptyRequest(t *testing.T) {
	_, err := Plan(domain.PipelineRequest{})
	se, ok := err.(*StageError)
	if !ok || se.Tag != TagInvalidRequest {
		t.Fatalf("expected InvalidRequest, got %#v", err)
	}
}

// TestValidateWorkersRejectsUnconfiguredWav2Lip grounds the literal
// RuntimeError("wav2lip required") wording used both at submit time and
// inside the engine.
func TestValidateWorkersRejectsUnconfiguredWav2Lip(t *testing.T) {
	e := New(Workers{}, nil, time.Second, time.Second, testLogger(t))
	err := e.ValidateWorkers([]domain.Stage{domain.StageWav2Lip})
	se, ok := err.(*StageError)
	if !ok || se.Tag != "RuntimeError" || se.Detail != "wav2lip required" {
		t.Fatalf("expected RuntimeError(\"wav2lip required\"), got %#v", err)
	}
}
