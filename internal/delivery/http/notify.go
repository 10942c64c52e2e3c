package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/delivery/http/middleware"
	"github.com/paincake00/dispatchcore/internal/entity"
)

type NotificationInput struct {
	Topic   string `json:"topic" binding:"required"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type PatrolInput struct {
	State    entity.PatrolState  `json:"state" binding:"required"`
	Location *entity.Coordinates `json:"location"`
}

func (h *Handler) createNotification(c *gin.Context) {
	var input NotificationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	actorID, _ := middleware.Actor(c)
	n, err := h.NotifyService.Notify(c.Request.Context(), input.Topic, input.Level, input.Title, input.Message, actorID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, n)
}

func (h *Handler) getPatrols(c *gin.Context) {
	patrols, err := h.NotifyService.ListPatrols(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if patrols == nil {
		patrols = []entity.PatrolStatusUpdate{}
	}

	c.JSON(http.StatusOK, patrols)
}

// updatePatrol статус публикует сам супервайзер, диспетчер может править любой.
func (h *Handler) updatePatrol(c *gin.Context) {
	var input PatrolInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	supervisorID := c.Param("id")
	actorID, role := middleware.Actor(c)
	if actorID != supervisorID && role != entity.RoleDispatcher {
		c.JSON(http.StatusForbidden, gin.H{"error": "may only update own patrol status", "code": "not_authorized"})
		return
	}

	update, err := h.NotifyService.UpdatePatrol(c.Request.Context(), supervisorID, input.State, input.Location)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, update)
}
