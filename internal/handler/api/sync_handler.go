package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/scheduler"
)

// SyncHandler exposes ad-hoc syncs, cursor inspection, and scoped
// data deletion.
type SyncHandler struct {
	repos    *Repos
	sched    *scheduler.Scheduler
	datasets map[string]bool
	logger   *zap.Logger
}

func NewSyncHandler(repos *Repos, sched *scheduler.Scheduler, datasets []string, logger *zap.Logger) *SyncHandler {
	valid := make(map[string]bool, len(datasets))
	for _, d := range datasets {
		valid[d] = true
	}
	return &SyncHandler{repos: repos, sched: sched, datasets: valid, logger: logger}
}

// Trigger starts an ad-hoc sync outside any scheduled job.
// POST /api/sync
func (h *SyncHandler) Trigger(c echo.Context) error {
	var req models.SyncRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	for _, ep := range req.Endpoints {
		if !h.datasets[ep] {
			return errorResponse(c, http.StatusBadRequest, "Unknown endpoint: "+ep)
		}
	}

	exec, err := h.sched.TriggerSync(&req)
	if err != nil {
		h.logger.Error("Failed to trigger sync", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to trigger sync")
	}
	return successResponse(c, "Sync dispatched", exec)
}

// Cursors lists the stored per-endpoint watermarks.
// GET /api/sync/cursors
func (h *SyncHandler) Cursors(c echo.Context) error {
	cursors, err := h.repos.Cursor.All()
	if err != nil {
		h.logger.Error("Failed to list cursors", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve cursors")
	}
	return successResponse(c, "", cursors)
}

// DeleteData removes rows from one dataset table by date range and
// records an audit row.
// POST /api/data/delete
func (h *SyncHandler) DeleteData(c echo.Context) error {
	var req models.DeleteDataRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if !repository.ValidDeletionTable(req.TableName) {
		return errorResponse(c, http.StatusBadRequest, "Invalid table name")
	}
	if !req.Confirm {
		return errorResponse(c, http.StatusBadRequest, "Data deletion requires confirmation. Set 'confirm' to true.")
	}

	deleted, err := h.repos.Crash.DeleteData(req.TableName, req.StartDate, req.EndDate, "api")
	if err != nil {
		h.logger.Error("Failed to delete data",
			zap.String("table", req.TableName), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to delete data")
	}
	h.logger.Warn("Data deleted",
		zap.String("table", req.TableName),
		zap.Int64("records", deleted),
		zap.String("start", req.StartDate),
		zap.String("end", req.EndDate))
	return successResponse(c, "Data deleted", map[string]interface{}{
		"table_name":      req.TableName,
		"records_deleted": deleted,
	})
}

// Deletions lists the deletion audit trail.
// GET /api/data/deletions
func (h *SyncHandler) Deletions(c echo.Context) error {
	logs, err := h.repos.Crash.DeletionLogs(queryInt(c, "limit", 50))
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve deletion logs")
	}
	return successResponse(c, "", logs)
}
