// Package pipeline implements the Pipeline Engine (spec §4.3): a per-task
// coroutine that selects which of the three stages run, drives each
// through its Remote Job Client, and writes every state transition to the
// Task Store. The Run loop walks a linear []Stage list computed once by
// Plan, rather than a dependency graph, since this pipeline's topology is a fixed, spec-mandated table rather
// than a dynamically discovered one (the "execution plan as a value"
// redesign note in spec §9).
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/yungbote/mediapipe-orchestrator/internal/clients/remote"
	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
	"github.com/yungbote/mediapipe-orchestrator/internal/store"
)

// Workers holds one Remote Job Client per worker kind. Any field may be nil
// when that stage's worker is unconfigured; ValidateWorkers / the stage runners treat
// a nil client as "not configured" per spec §4.3/§4.4.
type Workers struct {
	Sovits     *remote.Client
	Wav2Lip    *remote.Client
	FaceFusion *remote.Client
}

// Engine drives one task through its selected stages.
type Engine struct {
	workers      Workers
	store        *store.Store
	pollInterval time.Duration
	jobTimeout   time.Duration
	log          *logger.Logger
}

// New constructs an Engine. pollInterval and jobTimeout are the Remote Job
// Client's Wait parameters, gathered once in config rather than read from
// the environment per call, per spec §9's constructor-injection redesign
// note.
func New(workers Workers, st *store.Store, pollInterval, jobTimeout time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		workers:      workers,
		store:        st,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		log:          log.With("service", "PipelineEngine"),
	}
}

// Plan computes the ordered stage list for req before any stage runs, the
// execution-plan-as-a-value redesign from spec §9, following the selection
// table in spec §4.3.
func Plan(req domain.PipelineRequest) ([]domain.Stage, error) {
	hasScript := strings.TrimSpace(req.ScriptText) != ""
	hasVisual := strings.TrimSpace(req.TargetKey) != "" || len(req.SourceKeys) > 0

	if !hasScript && !hasVisual {
		return nil, newStageError(TagInvalidRequest, "neither script_text, target_key, nor source_keys were provided")
	}

	var stages []domain.Stage
	if hasScript {
		stages = append(stages, domain.StageSovits)
	}
	if hasVisual {
		stages = append(stages, domain.StageWav2Lip)
		if len(req.SourceKeys) > 0 {
			stages = append(stages, domain.StageFaceFusion)
		}
	}
	return stages, nil
}

// ValidateWorkers rejects at submit time if a selected stage's worker is
// unconfigured, per spec §4.4 ("reject at submit time if lip-sync is
// implied but unconfigured").
func (e *Engine) ValidateWorkers(stages []domain.Stage) error {
	for _, s := range stages {
		switch s {
		case domain.StageSovits:
			if e.workers.Sovits == nil {
				return newStageError(TagSovitsNotConfigured, nil)
			}
		case domain.StageWav2Lip:
			if e.workers.Wav2Lip == nil {
				return runtimeError("wav2lip required")
			}
		case domain.StageFaceFusion:
			if e.workers.FaceFusion == nil {
				return newStageError(TagFaceFusionNotConfigured, nil)
			}
		}
	}
	return nil
}

// Run drives taskID through its stored request's stage plan to a terminal
// record. It never returns an error to its caller: every failure is caught
// and written as the task's terminal failed record, matching spec §7's
// "the engine always finishes by writing a terminal record" propagation
// policy. ctx cancellation (Job Manager Close()) aborts the run in place
// without writing a terminal record, per spec §5's cancellation semantics.
func (e *Engine) Run(ctx context.Context, taskID string) {
	rec, err := e.store.Get(ctx, taskID)
	if err != nil || rec == nil {
		e.log.Error("pipeline run: task not found", "task_id", taskID, "error", err)
		return
	}

	stages, err := Plan(rec.Request)
	if err != nil {
		e.fail(ctx, taskID, err)
		return
	}

	req := rec.Request.Clone()
	audioOnly := len(stages) == 1 && stages[0] == domain.StageSovits

	var wav2lipOutput map[string]any
	intermediate := map[string]any{}

	for _, stage := range stages {
		if ctx.Err() != nil {
			return
		}

		switch stage {
		case domain.StageSovits:
			e.markRunning(ctx, taskID, stage)
			out, err := e.runSovits(ctx, taskID, &req)
			if err != nil {
				e.fail(ctx, taskID, err)
				return
			}
			intermediate["sovits"] = out

		case domain.StageWav2Lip:
			e.markRunning(ctx, taskID, stage)
			out, err := e.runWav2Lip(ctx, taskID, req)
			if err != nil {
				e.fail(ctx, taskID, err)
				return
			}
			wav2lipOutput = out
			intermediate["wav2lip"] = out
			if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
				"intermediate": mergeMap(intermediate),
			}); err != nil {
				e.log.Warn("update intermediate failed", "task_id", taskID, "error", err)
			}

		case domain.StageFaceFusion:
			e.markRunning(ctx, taskID, stage)
			out, err := e.runFaceFusion(ctx, taskID, req, wav2lipOutput)
			if err != nil {
				e.fail(ctx, taskID, err)
				return
			}
			if req.RetainIntermediate {
				out["intermediate"] = mergeMap(intermediate)
			}
			e.succeed(ctx, taskID, out, audioOnly)
			return
		}
	}

	// Reached the end of the plan without a face-swap stage: the last
	// stage executed carries the final result.
	var final any
	switch stages[len(stages)-1] {
	case domain.StageSovits:
		final = intermediate["sovits"]
	case domain.StageWav2Lip:
		final = intermediate["wav2lip"]
	}
	e.succeed(ctx, taskID, final, audioOnly)
}

func mergeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *Engine) progress(ctx context.Context, taskID, stage, message string) {
	if _, err := e.store.AppendProgress(ctx, taskID, message, stage, nil); err != nil {
		e.log.Warn("append progress failed", "task_id", taskID, "error", err)
	}
}

// markRunning records that stage has started: status=running, stage=<stage>,
// so a client polling GET /status/:taskID observes the run transitioning
// through running with the current stage instead of jumping straight from
// queued to a terminal value (spec §3 lifecycle, §8 invariant 1).
func (e *Engine) markRunning(ctx context.Context, taskID string, stage domain.Stage) {
	if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
		"status": domain.StatusRunning,
		"stage":  stage,
	}); err != nil {
		e.log.Warn("mark stage running failed", "task_id", taskID, "stage", stage, "error", err)
	}
}

func (e *Engine) fail(ctx context.Context, taskID string, err error) {
	// A cancelled run leaves the record as it last stood (no terminal write).
	if ctx.Err() != nil {
		return
	}
	payload := payloadFor(err)
	_, _ = e.store.UpdateFields(ctx, taskID, map[string]any{
		"status": domain.StatusFailed,
		"stage":  domain.StageFailed,
		"error":  &payload,
	})
	_, _ = e.store.AppendProgress(ctx, taskID, "Pipeline failed", string(domain.StageFailed), map[string]any{
		"error":  payload.Error,
		"detail": payload.Detail,
	})
	e.log.Error("pipeline task failed", "task_id", taskID, "error_tag", payload.Error)
}

func (e *Engine) succeed(ctx context.Context, taskID string, result any, audioOnly bool) {
	_, _ = e.store.UpdateFields(ctx, taskID, map[string]any{
		"status": domain.StatusCompleted,
		"stage":  domain.StageCompleted,
		"result": result,
		"error":  nil,
	})
	msg := "Pipeline completed"
	if audioOnly {
		msg = "Audio-only pipeline completed"
	}
	e.progress(ctx, taskID, string(domain.StageCompleted), msg)
}
