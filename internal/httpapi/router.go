package httpapi

import (
	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/mediapipe-orchestrator/internal/httpapi/middleware"
	"github.com/yungbote/mediapipe-orchestrator/internal/jobmanager"
	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
)

// NewRouter wires the façade's three routes (healthcheck, run, status) behind the shared middleware
// stack (otel span creation, trace-ID attachment, CORS), mirroring the
// teacher's internal/http.NewRouter wiring idiom scaled down to this
// repository's one sanctioned HTTP boundary.
func NewRouter(manager *jobmanager.Manager, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("mediapipe-orchestrator"))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.CORS())

	h := NewHandler(manager, log)

	r.GET("/healthcheck", func(c *gin.Context) { c.Status(200) })
	r.POST("/run", h.Run)
	r.GET("/status/:taskID", h.Status)

	return r
}
