package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// respondError отображает ошибки сервисов в HTTP-ответ {"error", "code"}.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr *usecase.VerificationError
		derr *usecase.DuplicateAssignmentError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   err.Error(),
			"code":    "verification_failed",
			"reason":  verr.Reason,
			"attempt": verr.Attempt,
		})
	case errors.As(err, &derr):
		c.JSON(http.StatusConflict, gin.H{
			"error":                err.Error(),
			"code":                 "duplicate_active_assignment",
			"active_assignment_id": derr.ActiveAssignmentID,
		})
	case errors.Is(err, usecase.ErrDuplicateActiveAssignment):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "duplicate_active_assignment"})
	case errors.Is(err, usecase.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "invalid_transition"})
	case errors.Is(err, usecase.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "not_authorized"})
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, usecase.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
	default:
		h.Log.Error("request failed",
			slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
}
