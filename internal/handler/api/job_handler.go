package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/scheduler"
)

// JobHandler exposes scheduled job CRUD and manual triggering.
type JobHandler struct {
	repos    *Repos
	sched    *scheduler.Scheduler
	datasets map[string]bool
	logger   *zap.Logger
}

func NewJobHandler(repos *Repos, sched *scheduler.Scheduler, datasets []string, logger *zap.Logger) *JobHandler {
	valid := make(map[string]bool, len(datasets))
	for _, d := range datasets {
		valid[d] = true
	}
	return &JobHandler{repos: repos, sched: sched, datasets: valid, logger: logger}
}

// List returns all jobs; ?enabled=true filters to enabled ones.
// GET /api/jobs
func (h *JobHandler) List(c echo.Context) error {
	jobs, err := h.repos.Job.FindAll()
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve jobs")
	}

	if c.QueryParam("enabled") == "true" {
		enabled := jobs[:0]
		for _, j := range jobs {
			if j.Enabled {
				enabled = append(enabled, j)
			}
		}
		jobs = enabled
	}
	return successResponse(c, "", jobs)
}

// Get returns one job.
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	job, err := h.repos.Job.FindByID(id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	if err != nil {
		h.logger.Error("Failed to load job", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve job")
	}
	return successResponse(c, "", job)
}

// Create registers a new scheduled job.
// POST /api/jobs
func (h *JobHandler) Create(c echo.Context) error {
	var req models.CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if req.Name == "" {
		return errorResponse(c, http.StatusBadRequest, "Job name is required")
	}
	if !models.ValidRecurrence(req.RecurrenceType, req.CronExpression) {
		return errorResponse(c, http.StatusBadRequest, "Invalid recurrence descriptor")
	}

	job := &models.ScheduledJob{
		Name:              req.Name,
		Description:       req.Description,
		Enabled:           true,
		Endpoints:         req.Endpoints,
		RecurrenceType:    req.RecurrenceType,
		CronExpression:    req.CronExpression,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		DateRangeDays:     req.DateRangeDays,
		Incremental:       req.Incremental,
		TimeoutMinutes:    req.TimeoutMinutes,
		MaxRetries:        req.MaxRetries,
		RetryDelayMinutes: req.RetryDelayMinutes,
		CreatedBy:         "api",
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if err := h.validEndpoints(job); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	job.NextRun = initialNextRun(job, time.Now())

	if err := h.repos.Job.Create(job); err != nil {
		h.logger.Error("Failed to create job", zap.String("name", req.Name), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to create job")
	}
	h.logger.Info("Job created", zap.Uint("job_id", job.ID), zap.String("name", job.Name))
	return successResponse(c, "Job created", job)
}

// Update applies a partial update; only provided fields change.
// PUT /api/jobs/:id
func (h *JobHandler) Update(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	var req models.UpdateJobRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	job, err := h.repos.Job.FindByID(id)
	if errors.Is(err, repository.ErrJobNotFound) {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve job")
	}

	reschedule := false
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.Description != nil {
		job.Description = *req.Description
	}
	if req.Endpoints != nil {
		job.Endpoints = *req.Endpoints
	}
	if req.RecurrenceType != nil {
		job.RecurrenceType = *req.RecurrenceType
		reschedule = true
	}
	if req.CronExpression != nil {
		job.CronExpression = *req.CronExpression
		reschedule = true
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}
	if req.StartDate != nil {
		job.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		job.EndDate = *req.EndDate
	}
	if req.DateRangeDays != nil {
		job.DateRangeDays = *req.DateRangeDays
	}
	if req.Incremental != nil {
		job.Incremental = *req.Incremental
	}
	if req.TimeoutMinutes != nil {
		job.TimeoutMinutes = *req.TimeoutMinutes
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelayMinutes != nil {
		job.RetryDelayMinutes = *req.RetryDelayMinutes
	}

	if !models.ValidRecurrence(job.RecurrenceType, job.CronExpression) {
		return errorResponse(c, http.StatusBadRequest, "Invalid recurrence descriptor")
	}
	if err := h.validEndpoints(job); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}
	if reschedule {
		job.NextRun = initialNextRun(job, time.Now())
	}

	if err := h.repos.Job.Save(job); err != nil {
		h.logger.Error("Failed to update job", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to update job")
	}
	return successResponse(c, "Job updated", job)
}

// Delete removes the job and its execution history.
// DELETE /api/jobs/:id
func (h *JobHandler) Delete(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	if err := h.repos.Job.Delete(id); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return errorResponse(c, http.StatusNotFound, "Job not found")
		}
		h.logger.Error("Failed to delete job", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to delete job")
	}
	return successResponse(c, "Job deleted", nil)
}

// SetEnabled toggles dispatch for the job.
// POST /api/jobs/:id/enable  |  POST /api/jobs/:id/disable
func (h *JobHandler) SetEnabled(enabled bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramUint(c, "id")
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "Invalid job id")
		}
		job, err := h.repos.Job.FindByID(id)
		if errors.Is(err, repository.ErrJobNotFound) {
			return errorResponse(c, http.StatusNotFound, "Job not found")
		}
		if err != nil {
			return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve job")
		}

		job.Enabled = enabled
		if enabled && job.NextRun == nil {
			job.NextRun = initialNextRun(job, time.Now())
		}
		if err := h.repos.Job.Save(job); err != nil {
			return errorResponse(c, http.StatusInternalServerError, "Failed to update job")
		}
		msg := "Job disabled"
		if enabled {
			msg = "Job enabled"
		}
		return successResponse(c, msg, job)
	}
}

// Run triggers the job immediately.
// POST /api/jobs/:id/run
func (h *JobHandler) Run(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	var req models.RunJobRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	exec, err := h.sched.Trigger(id, req.Force)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return errorResponse(c, http.StatusConflict, "Job already has a running execution")
	}
	if errors.Is(err, repository.ErrJobNotFound) {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	if err != nil {
		h.logger.Error("Failed to trigger job", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to trigger job")
	}
	return successResponse(c, "Job dispatched", exec)
}

// Summary aggregates the job's execution history.
// GET /api/jobs/:id/summary
func (h *JobHandler) Summary(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid job id")
	}
	if _, err := h.repos.Job.FindByID(id); errors.Is(err, repository.ErrJobNotFound) {
		return errorResponse(c, http.StatusNotFound, "Job not found")
	}
	summary, err := h.repos.Execution.Summarize(id)
	if err != nil {
		h.logger.Error("Failed to summarize job", zap.Uint("job_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to summarize job")
	}
	return successResponse(c, "", summary)
}

func (h *JobHandler) validEndpoints(job *models.ScheduledJob) error {
	list := job.EndpointList()
	if len(list) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for _, ep := range list {
		if !h.datasets[ep] {
			return errors.New("unknown endpoint: " + ep)
		}
	}
	return nil
}

// initialNextRun seeds next_run for a new or rescheduled job. ONCE
// jobs fire on the next tick; recurring jobs at their first natural
// slot.
func initialNextRun(job *models.ScheduledJob, now time.Time) *time.Time {
	if job.RecurrenceType == models.RecurrenceOnce {
		return &now
	}
	return models.CalculateNextRun(job.RecurrenceType, job.CronExpression, now)
}
