package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// invalidParam names the offending query or path parameter in meta so clients
// can highlight the field.
func invalidParam(c *gin.Context, param string, err error) {
	msg := "invalid " + param
	if err != nil {
		msg = err.Error()
	}
	Error(c, http.StatusBadRequest, msg, map[string]any{"param": param})
}
