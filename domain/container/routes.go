package container

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers Container Service HTTP routes under
// /api/v1/container. No auth or scope middleware is applied to the group,
// and the group is not returned to the caller.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/v1/container")

	g.POST("/workspaces", h.CreateWorkspace)
	g.GET("/workspaces/:id", h.GetWorkspace)
	g.POST("/workspaces/:id/archive", h.ArchiveWorkspace)
	g.GET("/workspaces/:id/diff", h.StreamDiff)

	g.POST("/sessions/:id/executions", h.StartExecution)
	g.POST("/sessions/:id/reset", h.ResetSession)

	g.POST("/executions/:id/stop", h.StopExecution)
	g.GET("/executions/:id/logs/raw", h.StreamRawLogs)
	g.GET("/executions/:id/logs/normalized", h.StreamNormalizedLogs)
}
