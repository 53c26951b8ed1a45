package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"crashsync/internal/handler/api"
	"crashsync/internal/middleware"
	"crashsync/internal/repository"
	"crashsync/internal/scheduler"
	"crashsync/internal/soda"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	db *gorm.DB,
	client *soda.Client,
	sched *scheduler.Scheduler,
	datasets []string,
	apiKey string,
	logger *zap.Logger,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	// Repositories
	repos := &api.Repos{
		Job:       repository.NewJobRepository(db),
		Execution: repository.NewExecutionRepository(db),
		Crash:     repository.NewCrashRepository(db),
		Cursor:    repository.NewCursorRepository(db),
	}

	// Handlers
	jobHandler := api.NewJobHandler(repos, sched, datasets, logger)
	executionHandler := api.NewExecutionHandler(repos, sched, logger)
	syncHandler := api.NewSyncHandler(repos, sched, datasets, logger)
	healthHandler := api.NewHealthHandler(db, client)

	// Health surface is unauthenticated
	e.GET("/health", healthHandler.Check)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.GET("/jobs", jobHandler.List)
	apiGroup.POST("/jobs", jobHandler.Create)
	apiGroup.GET("/jobs/:id", jobHandler.Get)
	apiGroup.PUT("/jobs/:id", jobHandler.Update)
	apiGroup.DELETE("/jobs/:id", jobHandler.Delete)
	apiGroup.POST("/jobs/:id/enable", jobHandler.SetEnabled(true))
	apiGroup.POST("/jobs/:id/disable", jobHandler.SetEnabled(false))
	apiGroup.POST("/jobs/:id/run", jobHandler.Run)
	apiGroup.GET("/jobs/:id/summary", jobHandler.Summary)
	apiGroup.GET("/jobs/:id/executions", executionHandler.ListForJob)

	apiGroup.GET("/executions", executionHandler.List)
	apiGroup.GET("/executions/:execution_id", executionHandler.Get)
	apiGroup.GET("/executions/:execution_id/logs", executionHandler.Logs)
	apiGroup.POST("/executions/:execution_id/cancel", executionHandler.Cancel)

	apiGroup.POST("/sync", syncHandler.Trigger)
	apiGroup.GET("/sync/cursors", syncHandler.Cursors)
	apiGroup.POST("/data/delete", syncHandler.DeleteData)
	apiGroup.GET("/data/deletions", syncHandler.Deletions)
}
