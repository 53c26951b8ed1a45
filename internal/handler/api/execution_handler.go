package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/scheduler"
)

// ExecutionHandler exposes the execution ledger: history, detail,
// incremental logs, and cancellation.
type ExecutionHandler struct {
	repos  *Repos
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

func NewExecutionHandler(repos *Repos, sched *scheduler.Scheduler, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{repos: repos, sched: sched, logger: logger}
}

// List returns executions most recent first. Filters: ?job_id=,
// ?status=, ?limit=.
// GET /api/executions
func (h *ExecutionHandler) List(c echo.Context) error {
	var jobID *uint
	if raw := c.QueryParam("job_id"); raw != "" {
		id, err := paramValueUint(raw)
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "Invalid job_id")
		}
		jobID = &id
	}

	execs, err := h.repos.Execution.List(jobID, c.QueryParam("status"), queryInt(c, "limit", 50))
	if err != nil {
		h.logger.Error("Failed to list executions", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve executions")
	}
	return successResponse(c, "", execs)
}

// ListForJob returns one job's executions most recent first.
// GET /api/jobs/:id/executions
func (h *ExecutionHandler) ListForJob(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	execs, err := h.repos.Execution.List(&id, c.QueryParam("status"), queryInt(c, "limit", 50))
	if err != nil {
		h.logger.Error("Failed to list executions", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve executions")
	}
	return successResponse(c, "", execs)
}

// Get returns one execution including its structured logs.
// GET /api/executions/:execution_id
func (h *ExecutionHandler) Get(c echo.Context) error {
	exec, err := h.repos.Execution.FindByExecutionID(c.Param("execution_id"))
	if errors.Is(err, repository.ErrExecutionNotFound) {
		return errorResponse(c, http.StatusNotFound, "Execution not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve execution")
	}
	return successResponse(c, "", exec)
}

// Logs returns log entries after ?after= (a sequence number), so
// consumers can poll without re-reading the whole array.
// GET /api/executions/:execution_id/logs
func (h *ExecutionHandler) Logs(c echo.Context) error {
	executionID := c.Param("execution_id")
	entries, err := h.repos.Execution.LogsAfter(executionID, queryInt(c, "after", 0))
	if errors.Is(err, repository.ErrExecutionNotFound) {
		return errorResponse(c, http.StatusNotFound, "Execution not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve logs")
	}
	return successResponse(c, "", entries)
}

// Cancel stops a running execution, or marks a pending one cancelled.
// POST /api/executions/:execution_id/cancel
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	executionID := c.Param("execution_id")

	exec, err := h.repos.Execution.FindByExecutionID(executionID)
	if errors.Is(err, repository.ErrExecutionNotFound) {
		return errorResponse(c, http.StatusNotFound, "Execution not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve execution")
	}
	if exec.Terminal() {
		return errorResponse(c, http.StatusConflict, "Execution already finished")
	}

	if exec.Status == models.StatusRunning {
		if !h.sched.Cancel(executionID) {
			return errorResponse(c, http.StatusConflict, "Execution is not running on this instance")
		}
		return successResponse(c, "Cancellation requested", nil)
	}

	cancelled, err := h.repos.Execution.Cancel(executionID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to cancel execution")
	}
	if !cancelled {
		return errorResponse(c, http.StatusConflict, "Execution already finished")
	}
	return successResponse(c, "Execution cancelled", nil)
}

func paramValueUint(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	return uint(id), err
}
