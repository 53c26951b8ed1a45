package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"crashsync/internal/models"
	"crashsync/internal/soda"
)

// HealthHandler reports storage reachability alongside the fetch
// client's circuit and rate budget, so callers can tell upstream
// degradation from storage degradation.
type HealthHandler struct {
	db     *gorm.DB
	client *soda.Client
}

func NewHealthHandler(db *gorm.DB, client *soda.Client) *HealthHandler {
	return &HealthHandler{db: db, client: client}
}

// Check serves the health surface.
// GET /health
func (h *HealthHandler) Check(c echo.Context) error {
	status := models.HealthStatus{Status: "ok", Database: "ok"}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		status.Status = "degraded"
		status.Database = "unreachable"
	}

	breaker := h.client.BreakerSnapshot()
	status.Breaker = models.BreakerHealth{
		State:               breaker.State,
		ConsecutiveFailures: breaker.ConsecutiveFailures,
	}
	if breaker.State == soda.BreakerOpen {
		status.Status = "degraded"
	}

	limiter := h.client.LimiterSnapshot()
	status.RateLimiter = models.RateLimiterHealth{
		Remaining:   limiter.Remaining,
		Ceiling:     limiter.Ceiling,
		WindowReset: limiter.WindowReset.Format(time.RFC3339),
	}

	code := http.StatusOK
	if status.Database == "unreachable" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
