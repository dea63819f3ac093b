package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"memorial/internal/content"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// Success writes the mutation success envelope.
func Success(c *gin.Context, status int, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// MutationError maps a gateway error onto the {"error": msg} envelope.
// Store failures keep their own message so the operator sees what was
// rejected.
func MutationError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *content.ValidationError
	var perr *content.PersistenceError
	switch {
	case errors.Is(err, content.ErrUnauthorized):
		Unauthorized(c)
	case errors.As(err, &verr):
		BadRequest(c, verr.Error())
	case errors.Is(err, content.ErrNotFound):
		NotFound(c, "character not found")
	case errors.As(err, &perr):
		logger.Error("content mutation rejected", slog.String("op", perr.Op), slog.Any("error", err))
		Internal(c, perr.Error())
	default:
		logger.Error("content mutation failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}
