package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pmbots/internal/apperr"
)

type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// Error writes the coded error body. The original error is attached to the
// context so the access log carries its cause.
func Error(c *gin.Context, err error) {
	e := apperr.From(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.Status(), errorResponse{Code: e.Code, Message: e.Message, Data: e.Data})
}

func invalid(field, key string) error {
	return apperr.WithData(apperr.CodeValidation, "validation failed", map[string]string{"field": field, "key": key})
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		Error(c, invalid(name, "invalid_id"))
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

// page reads limit/offset with a default limit and a hard ceiling.
func page(c *gin.Context, def, max int) (int, int) {
	limit := intQuery(c, "limit", def)
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
