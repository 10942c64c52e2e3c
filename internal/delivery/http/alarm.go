package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/delivery/http/middleware"
	"github.com/paincake00/dispatchcore/internal/entity"
)

type CreateAlarmInput struct {
	ClientID   string              `json:"client_id" binding:"required"`
	ClientName string              `json:"client_name"`
	Category   entity.Category     `json:"category" binding:"required"`
	Priority   entity.Priority     `json:"priority" binding:"required"`
	Address    string              `json:"address"`
	Location   *entity.Coordinates `json:"location"`
}

type DispatchInput struct {
	Note string `json:"note"`
}

func (h *Handler) createAlarm(c *gin.Context) {
	var input CreateAlarmInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	alarm := &entity.Alarm{
		ClientID:   input.ClientID,
		ClientName: input.ClientName,
		Category:   input.Category,
		Priority:   input.Priority,
		Address:    input.Address,
		Location:   input.Location,
	}
	if err := h.AlarmService.Create(c.Request.Context(), alarm); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, alarm)
}

func (h *Handler) getAlarms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	alarms, err := h.AlarmService.GetAll(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, alarms)
}

func (h *Handler) getAlarm(c *gin.Context) {
	alarm, err := h.AlarmService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, alarm)
}

func (h *Handler) getAlarmAssignments(c *gin.Context) {
	history, err := h.LifecycleService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

func (h *Handler) requestDispatch(c *gin.Context) {
	var input DispatchInput
	if err := bindOptionalJSON(c, &input); err != nil {
		badRequest(c, err)
		return
	}

	operatorID, _ := middleware.Actor(c)
	req, err := h.AlarmService.RequestDispatch(c.Request.Context(), c.Param("id"), operatorID, input.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, req)
}
