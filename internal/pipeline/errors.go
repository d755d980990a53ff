package pipeline

import (
	"fmt"

	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
)

// Engine-detected tags from spec §7: malformed remote output, absent
// workers, and unmet preconditions. Remote Job Client transport/taxonomy
// tags live in internal/clients/remote.
const (
	TagNoSovitsOutput          = "no_sovits_output"
	TagMissingSovitsOutputKey  = "missing_sovits_output_key"
	TagNoWav2LipOutput         = "no_wav2lip_output"
	TagNoFaceFusionOutput      = "no_facefusion_output"
	TagSovitsNotConfigured     = "sovits_not_configured"
	TagFaceFusionNotConfigured = "facefusion_not_configured"
	TagMissingReferenceAudio   = "missing_reference_audio"
	TagMissingAudioKey         = "missing_audio_key"
	TagInvalidRequest          = "invalid_request"
)

// StageError is the engine's typed error value, carrying its taxonomy tag
// and detail through the call stack instead of a caught/re-raised dict, per
// the redesign note in spec §9 — grounded on the same Unwrap idiom as
// internal/platform/apierr.Error and internal/clients/remote.Error.
type StageError struct {
	Tag    string
	Detail any
	Err    error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Tag, e.Detail)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Payload() domain.ErrorPayload {
	return domain.ErrorPayload{Error: e.Tag, Detail: e.Detail}
}

func newStageError(tag string, detail any) *StageError {
	return &StageError{Tag: tag, Detail: detail}
}

// payloadFor normalizes any error into the wire taxonomy shape. Structured
// errors (this package's *StageError, or *remote.Error via the Payload
// interface) are preserved verbatim; anything else is wrapped as
// {error: <Go type name>, detail: <message>}, matching spec §7's
// normalization rule for "any other exception."
func payloadFor(err error) domain.ErrorPayload {
	type payloader interface {
		Payload() domain.ErrorPayload
	}
	if p, ok := err.(payloader); ok {
		return p.Payload()
	}
	return domain.ErrorPayload{Error: fmt.Sprintf("%T", err), Detail: err.Error()}
}
