package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
)

func runtimeError(msg string) *StageError {
	return &StageError{Tag: "RuntimeError", Detail: msg}
}

// toOptionsMap marshals a typed options struct into a plain map so the
// engine can delete reference_text/reference_text_key and force
// ref_text_free the way spec §4.3 requires, without the struct's own JSON
// tags getting in the way.
func toOptionsMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// runSovits drives the voice-synthesis stage (spec §4.3 Stage 1). req is
// mutated in place: AudioKey/AudioBase64/ReferenceAudioKey are rewritten
// from the worker's output so the lip-sync stage consumes the synthesized
// audio.
func (e *Engine) runSovits(ctx context.Context, taskID string, req *domain.PipelineRequest) (map[string]any, error) {
	reference := strings.TrimSpace(req.ReferenceAudioKey)
	if reference == "" {
		reference = strings.TrimSpace(req.AudioKey)
	}
	if reference == "" {
		return nil, newStageError(TagMissingReferenceAudio, nil)
	}
	if e.workers.Sovits == nil {
		return nil, newStageError(TagSovitsNotConfigured, nil)
	}

	options := toOptionsMap(req.Sovits)
	delete(options, "reference_text")
	delete(options, "reference_text_key")
	options["ref_text_free"] = true

	payload := map[string]any{
		"reference_audio_key": reference,
		"target_text":         req.ScriptText,
		"reference_text":      "",
		"ref_text_free":       true,
		"options":             options,
	}
	if req.OutputKey != "" {
		payload["output_key"] = req.OutputKey
	}

	e.progress(ctx, taskID, string(domain.StageSovits), "Submitting SoVITS job")

	jobID, err := e.workers.Sovits.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
		"details": map[string]any{"sovits_job_id": jobID},
	}); err != nil {
		e.log.Warn("record sovits job id failed", "task_id", taskID, "error", err)
	}
	e.progress(ctx, taskID, string(domain.StageSovits), "SoVITS job submitted (job_id="+jobID+")")

	status, err := e.workers.Sovits.Wait(ctx, jobID, e.pollInterval, e.jobTimeout)
	if err != nil {
		return nil, err
	}

	output, ok := status["output"].(map[string]any)
	if !ok {
		return nil, newStageError(TagNoSovitsOutput, status)
	}
	outputKey, ok := output["output_key"].(string)
	if !ok || strings.TrimSpace(outputKey) == "" {
		return nil, newStageError(TagMissingSovitsOutputKey, output)
	}

	if audioB64, ok := output["audio_base64"].(string); ok && audioB64 != "" {
		req.AudioBase64 = audioB64
	}
	req.AudioKey = outputKey
	req.ReferenceAudioKey = reference

	if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
		"request": *req,
	}); err != nil {
		e.log.Warn("persist updated request failed", "task_id", taskID, "error", err)
	}

	e.progress(ctx, taskID, string(domain.StageSovits), "SoVITS completed")
	return output, nil
}

// runWav2Lip drives the lip-sync stage (spec §4.3 Stage 2).
func (e *Engine) runWav2Lip(ctx context.Context, taskID string, req domain.PipelineRequest) (map[string]any, error) {
	if strings.TrimSpace(req.AudioKey) == "" && strings.TrimSpace(req.AudioBase64) == "" {
		return nil, newStageError(TagMissingAudioKey, nil)
	}
	if e.workers.Wav2Lip == nil {
		return nil, runtimeError("wav2lip required")
	}

	e.progress(ctx, taskID, string(domain.StageWav2Lip), "Submitting Wav2Lip job")

	jobID, err := e.workers.Wav2Lip.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
		"details": map[string]any{"wav2lip_job_id": jobID},
	}); err != nil {
		e.log.Warn("record wav2lip job id failed", "task_id", taskID, "error", err)
	}
	e.progress(ctx, taskID, string(domain.StageWav2Lip), "Wav2Lip job submitted (job_id="+jobID+")")

	status, err := e.workers.Wav2Lip.Wait(ctx, jobID, e.pollInterval, e.jobTimeout)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	switch out := status["output"].(type) {
	case map[string]any:
		result = out
	case string:
		if strings.TrimSpace(out) == "" {
			return nil, newStageError(TagNoWav2LipOutput, status)
		}
		result = map[string]any{"output_url": out}
	default:
		return nil, newStageError(TagNoWav2LipOutput, status)
	}

	e.progress(ctx, taskID, string(domain.StageWav2Lip), "Wav2Lip completed")
	return result, nil
}

// runFaceFusion drives the face-swap stage (spec §4.3 Stage 3).
func (e *Engine) runFaceFusion(ctx context.Context, taskID string, req domain.PipelineRequest, wav2lip map[string]any) (map[string]any, error) {
	if e.workers.FaceFusion == nil {
		return nil, newStageError(TagFaceFusionNotConfigured, nil)
	}

	payload := map[string]any{
		"request": req,
		"wav2lip": wav2lip,
	}

	e.progress(ctx, taskID, string(domain.StageFaceFusion), "Submitting FaceFusion job")

	jobID, err := e.workers.FaceFusion.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.UpdateFields(ctx, taskID, map[string]any{
		"details": map[string]any{"facefusion_job_id": jobID},
	}); err != nil {
		e.log.Warn("record facefusion job id failed", "task_id", taskID, "error", err)
	}
	e.progress(ctx, taskID, string(domain.StageFaceFusion), "FaceFusion job submitted (job_id="+jobID+")")

	status, err := e.workers.FaceFusion.Wait(ctx, jobID, e.pollInterval, e.jobTimeout)
	if err != nil {
		return nil, err
	}

	output, ok := status["output"].(map[string]any)
	if !ok {
		return nil, newStageError(TagNoFaceFusionOutput, status)
	}

	e.progress(ctx, taskID, string(domain.StageFaceFusion), "FaceFusion completed")
	return output, nil
}
