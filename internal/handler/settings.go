package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NikKowPHP/meetup/internal/service"
)

type SettingsHandler struct {
	Settings *service.SystemSettingsService
}

func (h *SettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/settings")
	g.GET("", h.list)
	g.PUT("/:key", h.put)
}

// @Summary List feature switches
// @Tags settings
// @Success 200 {object} apiResponse
// @Router /api/settings [get]
func (h *SettingsHandler) list(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	items, err := h.Settings.List(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

// @Summary Toggle a feature switch
// @Tags settings
// @Param key path string true "feature.pipeline or feature.source.<name>"
// @Param body body putSwitchRequest true "switch value"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/settings/{key} [put]
func (h *SettingsHandler) put(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if !service.IsKnownSwitch(key) {
		Error(c, http.StatusBadRequest, "unknown switch", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"key": key, "enabled": *req.Enabled}, nil)
}
