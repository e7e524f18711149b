package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/NikKowPHP/meetup/internal/filter"
	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/repository"
	"github.com/NikKowPHP/meetup/internal/service"
	"github.com/NikKowPHP/meetup/internal/stream"
)

type EventsHandler struct {
	Search *service.SearchService
	Query  *service.EventQueryService
	Hub    *stream.Hub
	Logger *zap.Logger
}

func (h *EventsHandler) Register(r *gin.Engine) {
	group := r.Group("/api/events")
	group.GET("", h.listEvents)
	group.GET("/search", h.search)
	group.GET("/stream", h.stream)
	group.GET("/:id", h.getEvent)
}

// @Summary Search events
// @Tags events
// @Param q query string false "text contained in title or description"
// @Param categories query string false "comma separated categories"
// @Param startDate query string false "earliest start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "latest start (RFC3339 or YYYY-MM-DD)"
// @Param priceType query string false "free|paid|all"
// @Param source query string false "eventbrite|meetup|facebook|blog|forum"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/events/search [get]
func (h *EventsHandler) search(c *gin.Context) {
	if h.Search == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	priceType, err := filter.ParsePriceType(c.Query("priceType"))
	if err != nil {
		invalidParam(c, "priceType", err)
		return
	}
	start, err := dateQueryPtr(c, "startDate", false)
	if err != nil {
		invalidParam(c, "startDate", err)
		return
	}
	end, err := dateQueryPtr(c, "endDate", true)
	if err != nil {
		invalidParam(c, "endDate", err)
		return
	}
	if start != nil && end != nil && end.Before(*start) {
		invalidParam(c, "endDate", errors.New("endDate before startDate"))
		return
	}
	src, ok := sourceQuery(c)
	if !ok {
		return
	}
	criteria := filter.Criteria{
		Categories: filter.ParseCategories(c.Query("categories")),
		PriceType:  priceType,
		Query:      c.Query("q"),
	}
	if start != nil || end != nil {
		criteria.DateRange = &filter.DateRange{Start: start, End: end}
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	result, err := h.Search.Search(c.Request.Context(), service.SearchParams{
		Criteria: criteria,
		Source:   src,
		Page:     service.Page{Limit: limit, Offset: offset},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("search events failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	meta := paginationMeta(limit, offset, int64(result.Total))
	if result.Truncated {
		meta["truncated"] = true
	}
	Ok(c, result.Items, meta)
}

// @Summary List stored events
// @Tags events
// @Param status query string false "comma separated DRAFT|PUBLISHED|FLAGGED"
// @Param source query string false "eventbrite|meetup|facebook|blog|forum"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param order_by query string false "start|created_at|title|id"
// @Param ascending query bool false "ascending"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/events [get]
func (h *EventsHandler) listEvents(c *gin.Context) {
	if h.Query == nil || h.Query.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	var statuses []models.Status
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(part)
			if err != nil {
				invalidParam(c, "status", err)
				return
			}
			statuses = append(statuses, st)
		}
	}
	src, ok := sourceQuery(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := parseOrder(c.Query("order_by"), map[string]string{
		"start":      "start",
		"created_at": "created_at",
		"title":      "title",
		"id":         "id",
	})
	asc := boolQueryPtr(c, "ascending")

	result, err := h.Query.ListEvents(c.Request.Context(), repository.ListEventsParams{
		Limit:    limit,
		Offset:   offset,
		Statuses: statuses,
		Source:   src,
		OrderBy:  orderBy,
		Asc:      asc,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("list events failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result.Items, paginationMeta(limit, offset, result.Total))
}

// @Summary Get event
// @Tags events
// @Param id path int true "event id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/events/{id} [get]
func (h *EventsHandler) getEvent(c *gin.Context) {
	if h.Query == nil || h.Query.Repo == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		invalidParam(c, "id", nil)
		return
	}
	item, err := h.Query.GetEvent(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "event not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Stream newly ingested events
// @Description Upgrades to a WebSocket and pushes each accepted event as JSON.
// @Tags events
// @Router /api/events/stream [get]
func (h *EventsHandler) stream(c *gin.Context) {
	if h.Hub == nil {
		Error(c, http.StatusServiceUnavailable, "stream unavailable", nil)
		return
	}
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket accept failed", zap.Error(err))
		}
		return
	}
	defer conn.CloseNow()
	err = h.Hub.Serve(c.Request.Context(), conn, 30*time.Second)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	_ = conn.Close(websocket.StatusGoingAway, "stream closed")
}

// sourceQuery writes a 400 and returns false on an unknown source.
func sourceQuery(c *gin.Context) (*models.Source, bool) {
	raw := strQueryPtr(c, "source")
	if raw == nil {
		return nil, true
	}
	src, err := models.ParseSource(*raw)
	if err != nil {
		invalidParam(c, "source", err)
		return nil, false
	}
	return &src, true
}
