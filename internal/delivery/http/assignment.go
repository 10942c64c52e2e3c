package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/delivery/http/middleware"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

type CreateAssignmentInput struct {
	AlarmID      string `json:"alarm_id" binding:"required"`
	SupervisorID string `json:"supervisor_id" binding:"required"`
}

type ArrivalInput struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type VerifyInput struct {
	Scan     entity.ScanPayload  `json:"scan"`
	Location *entity.Coordinates `json:"location"`
}

type CompleteInput struct {
	Notes string `json:"notes"`
}

type CancelInput struct {
	Reason string `json:"reason"`
}

// bindOptionalJSON как ShouldBindJSON, но пустое тело не считается ошибкой.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) createAssignment(c *gin.Context) {
	var input CreateAssignmentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	dispatcherID, _ := middleware.Actor(c)
	a, err := h.LifecycleService.Create(c.Request.Context(), input.AlarmID, input.SupervisorID, dispatcherID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, a)
}

func (h *Handler) getAssignment(c *gin.Context) {
	a, err := h.LifecycleService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a)
}

func (h *Handler) getVerifications(c *gin.Context) {
	attempts, err := h.LifecycleService.VerificationAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func (h *Handler) getBoard(c *gin.Context) {
	items, err := h.LifecycleService.BoardSnapshot(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) acceptAssignment(c *gin.Context) {
	actorID, _ := middleware.Actor(c)
	a, err := h.LifecycleService.Accept(c.Request.Context(), c.Param("id"), actorID)
	h.respondAssignment(c, a, err)
}

func (h *Handler) recordArrival(c *gin.Context) {
	var input ArrivalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	actorID, _ := middleware.Actor(c)
	at := entity.Coordinates{Latitude: *input.Latitude, Longitude: *input.Longitude}
	a, err := h.LifecycleService.RecordArrival(c.Request.Context(), c.Param("id"), actorID, at)
	h.respondAssignment(c, a, err)
}

func (h *Handler) verifyArrival(c *gin.Context) {
	var input VerifyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	actorID, _ := middleware.Actor(c)
	a, err := h.LifecycleService.VerifyArrival(c.Request.Context(), c.Param("id"), actorID, usecase.VerifyArrivalInput{
		Scan:     input.Scan,
		Location: input.Location,
	})
	h.respondAssignment(c, a, err)
}

func (h *Handler) completeAssignment(c *gin.Context) {
	var input CompleteInput
	if err := bindOptionalJSON(c, &input); err != nil {
		badRequest(c, err)
		return
	}

	actorID, _ := middleware.Actor(c)
	a, err := h.LifecycleService.Complete(c.Request.Context(), c.Param("id"), actorID, input.Notes)
	h.respondAssignment(c, a, err)
}

func (h *Handler) cancelAssignment(c *gin.Context) {
	var input CancelInput
	if err := bindOptionalJSON(c, &input); err != nil {
		badRequest(c, err)
		return
	}

	actorID, _ := middleware.Actor(c)
	a, err := h.LifecycleService.Cancel(c.Request.Context(), c.Param("id"), actorID, input.Reason)
	h.respondAssignment(c, a, err)
}

// respondAssignment общий ответ для команд перехода.
func (h *Handler) respondAssignment(c *gin.Context, a *entity.Assignment, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
