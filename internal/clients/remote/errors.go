package remote

import (
	"fmt"

	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
)

// Tag constants for the Remote Job Client's slice of the error taxonomy
// (spec §7). The Pipeline Engine's own malformed-output/precondition tags
// live next to the stages that detect them, in internal/pipeline.
const (
	TagSubmitFailed = "runpod_submit_failed"
	TagStatusFailed = "runpod_status_failed"
	TagJobFailed    = "runpod_job_failed"
	TagJobTimeout   = "runpod_job_timeout"
	TagOutputError  = "runpod_output_error"
)

// Error is a structured remote-job failure: a taxonomy tag plus whatever
// detail accompanied it, carried as a typed Go error with Unwrap rather
// than a caught-and-reraised dict, per spec §9's redesign note — the same
// Status/Code/Err shape apierr.Error uses, here Tag/Detail/Err.
type Error struct {
	Tag    string
	Detail any
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Tag, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Payload renders the error into the wire taxonomy shape {error, detail}.
func (e *Error) Payload() domain.ErrorPayload {
	return domain.ErrorPayload{Error: e.Tag, Detail: e.Detail}
}

func submitFailed(detail any, err error) *Error {
	return &Error{Tag: TagSubmitFailed, Detail: detail, Err: err}
}

func statusFailed(detail any, err error) *Error {
	return &Error{Tag: TagStatusFailed, Detail: detail, Err: err}
}

func jobFailed(detail any) *Error {
	return &Error{Tag: TagJobFailed, Detail: detail}
}

func jobTimeout(jobID, lastTag string) *Error {
	return &Error{Tag: TagJobTimeout, Detail: map[string]any{"job_id": jobID, "last_tag": lastTag}}
}

func outputError(detail any) *Error {
	return &Error{Tag: TagOutputError, Detail: detail}
}
