package httpapi

import (
	"net/http"

	"github.com/yungbote/mediapipe-orchestrator/internal/pipeline"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/apierr"
)

// toAPIError maps a Job Manager / Pipeline Engine error into an
// HTTP-status-carrying apierr.Error, giving a core error an HTTP status
// without the core itself depending on net/http. Submission-time
// *pipeline.StageError values are client mistakes (400); anything else is
// treated as an internal failure (500).
func toAPIError(err error) *apierr.Error {
	if se, ok := err.(*pipeline.StageError); ok {
		return apierr.New(http.StatusBadRequest, se.Tag, se)
	}
	return apierr.New(http.StatusInternalServerError, "submit_failed", err)
}
