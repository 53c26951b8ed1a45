package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"crashsync/internal/models"
	"crashsync/internal/repository"
)

// Repos bundles the repositories the API handlers read and write.
type Repos struct {
	Job       *repository.JobRepository
	Execution *repository.ExecutionRepository
	Crash     *repository.CrashRepository
	Cursor    *repository.CursorRepository
}

func successResponse(c echo.Context, msg string, obj interface{}) error {
	return c.JSON(http.StatusOK, models.APIResponse{
		Status: true,
		Msg:    msg,
		Obj:    obj,
	})
}

func errorResponse(c echo.Context, code int, msg string) error {
	return c.JSON(code, models.APIResponse{
		Status: false,
		Msg:    msg,
		Obj:    nil,
	})
}

func paramUint(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	return uint(id), err
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
