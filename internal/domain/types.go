// Package domain holds the data shapes shared by every component of the
// orchestrator: the immutable request a caller submits, the mutable task
// record the Pipeline Engine owns, and the small value types (progress
// entries, structured errors, stage tags) that flow between them.
package domain

import "time"

// Stage is the tag carried by TaskRecord.Stage. Only these six values are
// valid; the Pipeline Engine is the only writer.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageSovits     Stage = "sovits"
	StageWav2Lip    Stage = "wav2lip"
	StageFaceFusion Stage = "facefusion"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Status is the lifecycle tag duplicated into both TaskRecord.Status and
// TaskRecord.State. The two are separate struct fields; TaskRecord.SetStatus
// writes both together, which is how this package keeps the
// "status == state" invariant.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SovitsOptions carries the caller-tunable voice-synthesis knobs. A wholly
// zero value is replaced by DefaultSovitsOptions in PipelineRequest.WithDefaults.
type SovitsOptions struct {
	TopK               int     `json:"top_k"`
	TopP               float64 `json:"top_p"`
	Temperature        float64 `json:"temperature"`
	Speed              float64 `json:"speed"`
	SampleSteps        int     `json:"sample_steps"`
	ReferenceText      string  `json:"reference_text,omitempty"`
	ReferenceTextKey   string  `json:"reference_text_key,omitempty"`
	TextSplitMethod    string  `json:"text_split_method,omitempty"`
}

// DefaultSovitsOptions mirrors the defaults baked into the original worker
// contract. WithDefaults applies them only when the whole Sovits object is
// zero (as an omitted JSON object decodes); an object that is present is used
// as decoded, and the fields it omits stay at their zero values.
func DefaultSovitsOptions() SovitsOptions {
	return SovitsOptions{
		TopK:            15,
		TopP:            1.0,
		Temperature:     1.0,
		Speed:           1.0,
		SampleSteps:     32,
		TextSplitMethod: "cut5",
	}
}

// Wav2LipOptions carries the caller-tunable lip-sync knobs.
type Wav2LipOptions struct {
	Quality    string `json:"quality,omitempty"`
	PadTop     int    `json:"pad_top"`
	PadBottom  int    `json:"pad_bottom"`
	PadLeft    int    `json:"pad_left"`
	PadRight   int    `json:"pad_right"`
	Smooth     bool   `json:"smooth"`
}

func DefaultWav2LipOptions() Wav2LipOptions {
	return Wav2LipOptions{
		Quality:   "Improved",
		PadTop:    0,
		PadBottom: 10,
		PadLeft:   0,
		PadRight:  0,
		Smooth:    true,
	}
}

// FaceFusionOptions carries the caller-tunable face-swap knobs.
type FaceFusionOptions struct {
	FaceSwapperModel string  `json:"face_swapper_model,omitempty"`
	FaceEnhancer     string  `json:"face_enhancer,omitempty"`
	FaceEnhanceBlend float64 `json:"face_enhancer_blend"`
}

func DefaultFaceFusionOptions() FaceFusionOptions {
	return FaceFusionOptions{
		FaceSwapperModel: "inswapper_128",
		FaceEnhanceBlend: 80,
	}
}

// PipelineRequest is the immutable input snapshot to a task. It is logically
// immutable after submission with one deliberate exception: the Pipeline
// Engine is permitted to rewrite AudioKey and AudioBase64 once the
// voice-synthesis stage produces new audio, since the lip-sync stage
// consumes those two fields from whatever the request last held; the same
// stage also sets ReferenceAudioKey to the voice reference it used.
type PipelineRequest struct {
	SourceKeys         []string `json:"source_keys,omitempty"`
	TargetKey          string   `json:"target_key,omitempty"`
	AudioKey           string   `json:"audio_key,omitempty"`
	AudioBase64        string   `json:"audio_base64,omitempty"`
	ReferenceAudioKey  string   `json:"reference_audio_key,omitempty"`
	ScriptText         string   `json:"script_text,omitempty"`
	OutputKey          string   `json:"output_key,omitempty"`
	Wav2LipOutputKey   string   `json:"wav2lip_output_key,omitempty"`

	Sovits     SovitsOptions     `json:"sovits"`
	Wav2Lip    Wav2LipOptions    `json:"wav2lip"`
	FaceFusion FaceFusionOptions `json:"facefusion"`

	RetainIntermediate bool `json:"retain_intermediate"`
}

// WithDefaults fills any of Sovits/Wav2Lip/FaceFusion left at its zero
// value (an omitted nested options object decodes to the zero value, since
// JSON unmarshaling never calls a default constructor on its own) with the
// documented Default*Options, the nested-options-with-defaults contract
// spec §3 describes.
func (r PipelineRequest) WithDefaults() PipelineRequest {
	out := r
	if out.Sovits == (SovitsOptions{}) {
		out.Sovits = DefaultSovitsOptions()
	}
	if out.Wav2Lip == (Wav2LipOptions{}) {
		out.Wav2Lip = DefaultWav2LipOptions()
	}
	if out.FaceFusion == (FaceFusionOptions{}) {
		out.FaceFusion = DefaultFaceFusionOptions()
	}
	return out
}

// Clone returns a deep-enough copy for the engine to mutate AudioKey /
// AudioBase64 without racing a concurrent reader of the original snapshot.
func (r PipelineRequest) Clone() PipelineRequest {
	out := r
	if r.SourceKeys != nil {
		out.SourceKeys = append([]string(nil), r.SourceKeys...)
	}
	return out
}

// ProgressEntry is one append-only line in a TaskRecord's progress log.
type ProgressEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Stage     string         `json:"stage,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ErrorPayload is the wire shape of every structured error in the taxonomy:
// {error: <tag>, detail: <any>}.
type ErrorPayload struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// TaskRecord is the mutable record the Pipeline Engine owns for the
// lifetime of one task. Only the engine writes to it; every other component
// reads a sanitized copy back out of the Task Store.
type TaskRecord struct {
	TaskID    string `json:"task_id"`
	Status    Status `json:"status"`
	State     Status `json:"state"`
	Stage     Stage  `json:"stage"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	Request PipelineRequest `json:"request"`

	Result any           `json:"result"`
	Error  *ErrorPayload `json:"error"`

	Progress     []ProgressEntry `json:"progress"`
	Intermediate map[string]any  `json:"intermediate"`
	Details      map[string]any  `json:"details"`
}

// NowISO renders t in the ISO-8601 UTC form the record's timestamp fields
// use on the wire: second precision, trailing Z.
func NowISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// SetStatus writes status into both Status and State in one motion, so the
// two JSON fields can never diverge in memory.
func (t *TaskRecord) SetStatus(s Status) {
	t.Status = s
	t.State = s
}
