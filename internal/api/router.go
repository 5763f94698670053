package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/csrnotify/internal/app"
	"github.com/charlesng35/csrnotify/internal/handlers"
	"github.com/charlesng35/csrnotify/internal/middleware"
	"github.com/charlesng35/csrnotify/internal/monitoring"
	"github.com/charlesng35/csrnotify/internal/realtime"
	"github.com/charlesng35/csrnotify/internal/repository"
	"github.com/charlesng35/csrnotify/internal/services"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config      *app.Config
	Engine      *services.Engine
	Preferences repository.PreferenceRepository
	Tokens      middleware.TokenValidator
	Monitoring  *monitoring.Module
	Hub         *realtime.Hub
}

// NewRouter builds the Gin engine, wires middleware and registers the admin API.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("scheduling engine must be provided")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token validator must be provided")
	}
	cfg := deps.Config

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	if cfg.Server.RateLimit.Requests > 0 && cfg.Server.RateLimit.Window > 0 {
		r.Use(middleware.RateLimit(cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	registerHealthRoutes(r, cfg, deps.Monitoring)

	var monitoringHandler *handlers.MonitoringHandler
	if cfg.Monitoring.Prometheus.Enabled {
		monitoringHandler = handlers.NewMonitoringHandler(deps.Monitoring, cfg.Monitoring.Prometheus.Endpoint)
		if monitoringHandler != nil {
			r.GET(monitoringHandler.Endpoint(), monitoringHandler.Metrics)
		}
	}

	if deps.Hub != nil {
		realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Tokens)
		r.GET("/ws", realtimeHandler.Stream)
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Tokens))
	admin := api.Group("")
	admin.Use(middleware.RequireAdmin())

	notificationHandler, err := handlers.NewNotificationHandler(deps.Engine)
	if err != nil {
		return nil, err
	}
	registerNotificationRoutes(api, admin, notificationHandler)

	if deps.Preferences != nil {
		preferenceHandler, err := handlers.NewPreferenceHandler(deps.Preferences)
		if err != nil {
			return nil, err
		}
		api.GET("/preferences", preferenceHandler.Get)
		api.PUT("/preferences", preferenceHandler.Update)
	}

	digestHandler, err := handlers.NewDigestHandler(deps.Engine)
	if err != nil {
		return nil, err
	}
	api.GET("/digests/:type/preview", digestHandler.Preview)
	admin.POST("/digests/:type", digestHandler.Run)

	schedulingHandler, err := handlers.NewSchedulingHandler(deps.Engine, handlers.SchedulingOptions{
		DefaultHorizon: cfg.Scheduler.GenerationHorizon,
		DefaultLimit:   cfg.Scheduler.ProcessDueLimit,
	})
	if err != nil {
		return nil, err
	}
	scheduling := admin.Group("/scheduling")
	{
		scheduling.GET("/stats", schedulingHandler.Stats)
		scheduling.POST("/process-due", schedulingHandler.ProcessDue)
		scheduling.POST("/generate", schedulingHandler.Generate)
		scheduling.DELETE("/series/:scheduleID", schedulingHandler.DeactivateSeries)
	}

	if monitoringHandler == nil {
		monitoringHandler = handlers.NewMonitoringHandler(deps.Monitoring, "")
	}
	if monitoringHandler != nil {
		admin.GET("/monitoring/summary", monitoringHandler.Summary)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerNotificationRoutes(api, admin *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/:id", handler.Get)
		group.POST("/:id/read", handler.MarkRead)
	}

	managed := admin.Group("/notifications")
	{
		managed.POST("", handler.Create)
		managed.POST("/:id/cancel", handler.Cancel)
		managed.POST("/:id/reschedule", handler.Reschedule)
	}
}

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/live", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	var manager *monitoring.HealthManager
	if mon != nil {
		manager = mon.Health()
	}
	health := handlers.NewHealthHandler(manager)
	r.GET("/health", health.Health)
	r.GET("/health/live", health.Live)
	r.GET("/health/ready", health.Ready)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
