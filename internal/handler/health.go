package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/service"
)

type HealthHandler struct {
	DB      *gorm.DB
	Sources *service.SourceStateService
}

type readiness struct {
	Status  string            `json:"status"`
	DB      string            `json:"db"`
	Sources map[string]string `json:"sources,omitempty"`
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Liveness check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Description 503 when the database is unusable. A reachable database with every enabled source failing reports "degraded" with 200, since stored events can still be served.
// @Tags health
// @Success 200 {object} readiness
// @Failure 503 {object} readiness
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	out := readiness{Status: "ready", DB: h.dbStatus(c.Request.Context())}
	if out.DB != "ok" {
		out.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, out)
		return
	}
	if h.Sources != nil {
		states, err := h.Sources.List(c.Request.Context())
		if err == nil && len(states) > 0 {
			out.Sources = make(map[string]string, len(states))
			for _, s := range states {
				out.Sources[s.Name] = s.HealthStatus
			}
			if allFailing(states) {
				out.Status = "degraded"
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *HealthHandler) dbStatus(ctx context.Context) string {
	if h.DB == nil {
		return "missing"
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		return "error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "unreachable"
	}
	return "ok"
}

// allFailing ignores disabled sources; with none enabled nothing is failing.
func allFailing(states []models.SourceState) bool {
	enabled := 0
	for _, s := range states {
		if !s.Enabled {
			continue
		}
		enabled++
		if s.HealthStatus != models.HealthFailing {
			return false
		}
	}
	return enabled > 0
}
