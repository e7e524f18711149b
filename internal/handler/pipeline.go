package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/pipeline"
	"github.com/NikKowPHP/meetup/internal/service"
)

// PipelineRunner is satisfied by *pipeline.Orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

type PipelineHandler struct {
	Runner PipelineRunner
	States *service.SourceStateService
	Logger *zap.Logger
}

func (h *PipelineHandler) Register(r *gin.Engine) {
	group := r.Group("/api/pipeline")
	group.POST("/run", h.run)
	group.GET("/sources", h.listSources)
}

// @Summary Run the ingestion pipeline now
// @Tags pipeline
// @Success 200 {object} apiResponse
// @Failure 500 {object} apiResponse
// @Router /api/pipeline/run [post]
func (h *PipelineHandler) run(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	result, err := h.Runner.Run(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("manual pipeline run failed", zap.Error(err))
		}
		status := http.StatusBadGateway
		if errors.Is(err, pipeline.ErrPersistence) {
			status = http.StatusInternalServerError
		}
		var meta map[string]any
		if result != nil {
			meta = map[string]any{"summary": result.Summary()}
		}
		Error(c, status, err.Error(), meta)
		return
	}
	Ok(c, result.Summary(), nil)
}

// @Summary List per-source state
// @Tags pipeline
// @Success 200 {object} apiResponse
// @Router /api/pipeline/sources [get]
func (h *PipelineHandler) listSources(c *gin.Context) {
	if h.States == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	items, err := h.States.List(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
