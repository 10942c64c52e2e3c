package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/bus"
	"github.com/paincake00/dispatchcore/internal/delivery/http/middleware"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/metrics"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

// Pinger интерфейс для проверки соединения с сервисами (БД, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler структура, объединяющая все HTTP-обработчики.
type Handler struct {
	AlarmService     *usecase.AlarmService
	LifecycleService *usecase.LifecycleService
	NotifyService    *usecase.NotifyService
	Hub              *bus.Hub
	DBPinger         Pinger
	RedisPinger      Pinger
	APIKey           string

	// Metrics и Log необязательны.
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// NewHandler создает новый экземпляр HTTP-обработчика.
func NewHandler(as *usecase.AlarmService, ls *usecase.LifecycleService, ns *usecase.NotifyService, hub *bus.Hub, db Pinger, rds Pinger, apiKey string) *Handler {
	return &Handler{
		AlarmService:     as,
		LifecycleService: ls,
		NotifyService:    ns,
		Hub:              hub,
		DBPinger:         db,
		RedisPinger:      rds,
		APIKey:           apiKey,
		Log:              slog.Default(),
	}
}

// InitRoutes инициализирует роутер Gin и настраивает маршруты API.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/api/v1/system/health", h.healthCheck)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(h.APIKey), middleware.ActorMiddleware())
	{
		alarms := v1.Group("/alarms")
		{
			alarms.POST("", h.createAlarm)
			alarms.GET("", h.getAlarms)
			alarms.GET("/:id", h.getAlarm)
			alarms.GET("/:id/assignments", h.getAlarmAssignments)
			alarms.POST("/:id/dispatch", h.requestDispatch)
		}

		dispatcherOnly := middleware.RequireRole(entity.RoleDispatcher)

		assignments := v1.Group("/assignments")
		{
			assignments.POST("", dispatcherOnly, h.createAssignment)
			assignments.GET("/active", h.getBoard) // отдельно от /:id
			assignments.GET("/:id", h.getAssignment)
			assignments.GET("/:id/verifications", h.getVerifications)
			assignments.POST("/:id/accept", h.acceptAssignment)
			assignments.POST("/:id/arrive", h.recordArrival)
			assignments.POST("/:id/verify", h.verifyArrival)
			assignments.POST("/:id/complete", h.completeAssignment)
			assignments.POST("/:id/cancel", dispatcherOnly, h.cancelAssignment)
		}

		v1.POST("/notifications", h.createNotification)

		patrols := v1.Group("/patrols")
		{
			patrols.GET("", h.getPatrols)
			patrols.PUT("/:id", h.updatePatrol)
		}

		v1.GET("/ws", h.handleWebSocket)
	}

	return router
}

// healthCheck проверяет состояние сервиса и зависимостей (PostgreSQL, Redis).
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	if h.DBPinger != nil {
		if err := h.DBPinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "db": err.Error()})
			return
		}
	}
	if h.RedisPinger != nil {
		if err := h.RedisPinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "redis": err.Error()})
			return
		}
	}

	sessions := 0
	if h.Hub != nil {
		sessions = h.Hub.Sessions()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": sessions})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.Log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
		)
	}
}
