// Package httpapi is the one HTTP surface this repository owns (spec §2
// component 6): build a PipelineRequest, call JobManager.Submit, return the
// task ID, and a status route that calls JobManager.GetTask. Everything
// else — authn, billing, the full REST surface — is an explicit external
// collaborator per spec §1; this façade exists only so the orchestration
// core can be exercised end-to-end over HTTP.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/mediapipe-orchestrator/internal/domain"
	"github.com/yungbote/mediapipe-orchestrator/internal/httpapi/response"
	"github.com/yungbote/mediapipe-orchestrator/internal/jobmanager"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
)

// Handler wires the Job Manager into gin handler funcs.
type Handler struct {
	manager *jobmanager.Manager
	log     *logger.Logger
}

func NewHandler(manager *jobmanager.Manager, log *logger.Logger) *Handler {
	return &Handler{manager: manager, log: log.With("service", "HTTPHandler")}
}

// Run handles POST /run: decode a PipelineRequest, submit it, return its
// task ID.
func (h *Handler) Run(c *gin.Context) {
	var req domain.PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	taskID, err := h.manager.Submit(c.Request.Context(), req)
	if err != nil {
		apiErr := toAPIError(err)
		response.RespondError(c, apiErr.Status, apiErr.Code, apiErr)
		return
	}
	response.RespondOK(c, gin.H{"task_id": taskID})
}

// Status handles GET /status/:taskID, returning the task record unchanged
// (spec §6: "the status endpoint returns the record unchanged").
func (h *Handler) Status(c *gin.Context) {
	taskID := c.Param("taskID")
	rec, err := h.manager.GetTask(c.Request.Context(), taskID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	if rec == nil {
		response.RespondError(c, http.StatusNotFound, "task_not_found", errors.New("task not found"))
		return
	}
	response.RespondOK(c, rec)
}
