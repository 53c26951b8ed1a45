package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"crashsync/internal/config"
	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/syncer"
)

// ErrAlreadyRunning is returned when a trigger hits a job that has a
// live execution and force was not set.
var ErrAlreadyRunning = errors.New("job already has a running execution")

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerRetry     = "retry"

	defaultTimeoutMinutes = 60
)

// JobStore is the slice of the job repository the scheduler needs.
type JobStore interface {
	Due(now time.Time) ([]models.ScheduledJob, error)
	FindByID(id uint) (*models.ScheduledJob, error)
	ClaimRun(jobID uint, executionID string) (bool, error)
	ReleaseRun(jobID uint, executionID string) error
	CompleteRun(jobID uint, executionID string, completedAt time.Time, nextRun *time.Time) error
}

// ExecutionStore is the slice of the execution ledger the scheduler
// writes through.
type ExecutionStore interface {
	Create(exec *models.JobExecution) error
	MarkRunning(executionID string, startedAt time.Time) (bool, error)
	Finalize(exec *models.JobExecution) error
	Cancel(executionID string) (bool, error)
	AppendLogs(executionID string, entries []models.ExecutionLogEntry) error
	DueRetries(now time.Time) ([]models.JobExecution, error)
	FailStaleRunning(reason string) (int64, error)
}

// Runner executes one sync run; satisfied by the syncer.
type Runner interface {
	Run(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error)
}

// Scheduler owns the tick loop: due-job dispatch, retry dispatch, and
// execution lifecycle. Only the leader instance dispatches; manual
// triggers work on any instance.
type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.SchedulerConfig
	logger *zap.Logger
	jobs   JobStore
	execs  ExecutionStore
	runner Runner
	leader Leader

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg *config.SchedulerConfig, jobs JobStore, execs ExecutionStore, runner Runner, leader Leader, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		logger:  logger,
		jobs:    jobs,
		execs:   execs,
		runner:  runner,
		leader:  leader,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start recovers stranded executions and begins ticking.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler...")

	if n, err := s.execs.FailStaleRunning("process restarted while execution was running"); err != nil {
		s.logger.Error("Failed to close stale executions", zap.Error(err))
	} else if n > 0 {
		s.logger.Warn("Closed stale running executions", zap.Int64("count", n))
	}

	tick := s.cfg.TickSeconds
	if tick <= 0 {
		tick = 60
	}
	s.cron.AddFunc(fmt.Sprintf("@every %ds", tick), s.tick)
	s.cron.Start()
}

// Stop halts the tick loop, cancels live executions, and waits for
// them to finish finalizing.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.leader.Release(ctx); err != nil {
		s.logger.Warn("Leader release failed", zap.Error(err))
	}
}

func (s *Scheduler) tick() {
	defer s.recoverFromPanic("tick")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	isLeader, err := s.leader.Acquire(ctx)
	if err != nil {
		s.logger.Warn("Leader acquire failed", zap.Error(err))
		return
	}
	if !isLeader {
		return
	}

	now := time.Now()
	s.dispatchDue(now)
	s.dispatchRetries(now)
}

func (s *Scheduler) dispatchDue(now time.Time) {
	due, err := s.jobs.Due(now)
	if err != nil {
		s.logger.Error("Due-job scan failed", zap.Error(err))
		return
	}

	for i := range due {
		job := due[i]
		exec := s.newExecution(&job, TriggerScheduled, 1, uuid.NewString(), nil)

		claimed, err := s.jobs.ClaimRun(job.ID, exec.ExecutionID)
		if err != nil {
			s.logger.Error("Run claim failed", zap.Uint("job_id", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		if err := s.execs.Create(exec); err != nil {
			s.logger.Error("Execution create failed", zap.Uint("job_id", job.ID), zap.Error(err))
			s.jobs.ReleaseRun(job.ID, exec.ExecutionID)
			continue
		}

		s.logger.Info("Dispatching job",
			zap.Uint("job_id", job.ID),
			zap.String("job", job.Name),
			zap.String("execution_id", exec.ExecutionID))
		s.launch(&job, exec)
	}
}

func (s *Scheduler) dispatchRetries(now time.Time) {
	retries, err := s.execs.DueRetries(now)
	if err != nil {
		s.logger.Error("Retry scan failed", zap.Error(err))
		return
	}

	for i := range retries {
		exec := retries[i]
		if exec.JobID == nil {
			continue
		}
		job, err := s.jobs.FindByID(*exec.JobID)
		if errors.Is(err, repository.ErrJobNotFound) {
			// The job was deleted after this retry was scheduled;
			// cancel the row or it stays due forever.
			if _, cErr := s.execs.Cancel(exec.ExecutionID); cErr != nil {
				s.logger.Error("Failed to cancel orphaned retry",
					zap.String("execution_id", exec.ExecutionID), zap.Error(cErr))
			} else {
				s.logger.Warn("Cancelled retry for deleted job",
					zap.String("execution_id", exec.ExecutionID),
					zap.Uint("job_id", *exec.JobID))
			}
			continue
		}
		if err != nil {
			s.logger.Warn("Retry job lookup failed",
				zap.String("execution_id", exec.ExecutionID), zap.Error(err))
			continue
		}

		claimed, err := s.jobs.ClaimRun(job.ID, exec.ExecutionID)
		if err != nil || !claimed {
			continue
		}

		s.logger.Info("Dispatching retry",
			zap.Uint("job_id", job.ID),
			zap.String("execution_id", exec.ExecutionID),
			zap.Int("attempt", exec.Attempt))
		s.launch(job, &exec)
	}
}

// Trigger runs a job immediately. force bypasses the single-running
// check; the forced execution then runs alongside the live one without
// touching the job's schedule.
func (s *Scheduler) Trigger(jobID uint, force bool) (*models.JobExecution, error) {
	job, err := s.jobs.FindByID(jobID)
	if err != nil {
		return nil, err
	}

	exec := s.newExecution(job, TriggerManual, 1, uuid.NewString(), nil)
	if force {
		exec.Forced = true
	} else {
		claimed, err := s.jobs.ClaimRun(job.ID, exec.ExecutionID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrAlreadyRunning
		}
	}

	if err := s.execs.Create(exec); err != nil {
		if !force {
			s.jobs.ReleaseRun(job.ID, exec.ExecutionID)
		}
		return nil, err
	}
	s.launch(job, exec)
	return exec, nil
}

// TriggerSync starts an ad-hoc sync with no backing job.
func (s *Scheduler) TriggerSync(req *models.SyncRequest) (*models.JobExecution, error) {
	exec := &models.JobExecution{
		ExecutionID:  uuid.NewString(),
		Status:       models.StatusPending,
		Trigger:      TriggerManual,
		Attempt:      1,
		RetryGroupID: uuid.NewString(),
		Endpoints:    joinEndpoints(req.Endpoints),
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Forced:       req.Force,
	}
	if err := s.execs.Create(exec); err != nil {
		return nil, err
	}

	spec := syncer.RunSpec{
		Endpoints:   req.Endpoints,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Incremental: req.Incremental,
	}
	s.run(nil, exec, spec, defaultTimeoutMinutes)
	return exec, nil
}

// Cancel stops a running execution cooperatively. Pending executions
// are cancelled through the ledger instead.
func (s *Scheduler) Cancel(executionID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[executionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ── Execution lifecycle ──

func (s *Scheduler) newExecution(job *models.ScheduledJob, trigger string, attempt int, retryGroupID string, runAfter *time.Time) *models.JobExecution {
	start, end := job.StartDate, job.EndDate
	if job.DateRangeDays > 0 {
		start = time.Now().AddDate(0, 0, -job.DateRangeDays).Format("2006-01-02")
		end = ""
	}
	jobID := job.ID
	return &models.JobExecution{
		ExecutionID:  uuid.NewString(),
		JobID:        &jobID,
		Status:       models.StatusPending,
		Trigger:      trigger,
		Attempt:      attempt,
		RetryGroupID: retryGroupID,
		RunAfter:     runAfter,
		Endpoints:    job.Endpoints,
		StartDate:    start,
		EndDate:      end,
	}
}

func (s *Scheduler) launch(job *models.ScheduledJob, exec *models.JobExecution) {
	spec := syncer.RunSpec{
		Endpoints:   splitEndpoints(exec.Endpoints),
		StartDate:   exec.StartDate,
		EndDate:     exec.EndDate,
		Incremental: job.Incremental,
	}
	timeout := job.TimeoutMinutes
	if timeout <= 0 {
		timeout = defaultTimeoutMinutes
	}
	s.run(job, exec, spec, timeout)
}

// run executes asynchronously; the job slot is released on every exit
// path.
func (s *Scheduler) run(job *models.ScheduledJob, exec *models.JobExecution, spec syncer.RunSpec, timeoutMinutes int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMinutes)*time.Minute)

	s.mu.Lock()
	s.cancels[exec.ExecutionID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recoverFromPanic("execution " + exec.ExecutionID)
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, exec.ExecutionID)
			s.mu.Unlock()
		}()

		s.execute(ctx, job, exec, spec)
	}()
}

func (s *Scheduler) execute(ctx context.Context, job *models.ScheduledJob, exec *models.JobExecution, spec syncer.RunSpec) {
	startedAt := time.Now()
	ok, err := s.execs.MarkRunning(exec.ExecutionID, startedAt)
	if err != nil || !ok {
		if err != nil {
			s.logger.Error("MarkRunning failed",
				zap.String("execution_id", exec.ExecutionID), zap.Error(err))
		}
		if job != nil {
			s.jobs.ReleaseRun(job.ID, exec.ExecutionID)
		}
		return
	}

	logs := newExecLog(s.execs, exec.ExecutionID, s.logger)
	logs.Append("info", "execution started")

	summary, runErr := s.runner.Run(ctx, spec, logs.Append)
	completedAt := time.Now()

	exec.CompletedAt = &completedAt
	exec.DurationSeconds = int(completedAt.Sub(startedAt).Seconds())

	switch {
	case runErr != nil:
		exec.Status = models.StatusFailed
		exec.ErrorMessage = runErr.Error()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		exec.Status = models.StatusFailed
		exec.ErrorMessage = "Timeout"
	case errors.Is(ctx.Err(), context.Canceled):
		exec.Status = models.StatusCancelled
		exec.ErrorMessage = "cancelled"
	default:
		exec.Status = summary.Status
		exec.ErrorMessage = summaryErrors(summary)
	}

	if summary != nil {
		totals := summary.Totals()
		exec.RecordsFetched = totals.Fetched
		exec.RecordsSanitized = totals.SanitizedOK
		exec.RecordsRejected = totals.Rejected
		exec.RecordsInserted = totals.Inserted
		exec.RecordsUpdated = totals.Updated
		if raw, err := json.Marshal(summary.Endpoints); err == nil {
			exec.EndpointCounts = string(raw)
		}
	}

	logs.Append("info", fmt.Sprintf("execution finished: %s", exec.Status))
	logs.Flush()

	if err := s.execs.Finalize(exec); err != nil {
		s.logger.Error("Execution finalize failed",
			zap.String("execution_id", exec.ExecutionID), zap.Error(err))
	}

	if job != nil {
		s.completeJob(job, exec, completedAt)
	}

	s.logger.Info("Execution finished",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("status", exec.Status),
		zap.Int("fetched", exec.RecordsFetched),
		zap.Int("inserted", exec.RecordsInserted),
		zap.Int("updated", exec.RecordsUpdated),
		zap.Int("rejected", exec.RecordsRejected))
}

// completeJob releases the running slot, advances the schedule, and
// creates a retry row when the run failed with attempts left.
func (s *Scheduler) completeJob(job *models.ScheduledJob, exec *models.JobExecution, completedAt time.Time) {
	nextRun := models.CalculateNextRun(job.RecurrenceType, job.CronExpression, completedAt)
	if err := s.jobs.CompleteRun(job.ID, exec.ExecutionID, completedAt, nextRun); err != nil {
		s.logger.Error("Job completion update failed",
			zap.Uint("job_id", job.ID), zap.Error(err))
		s.jobs.ReleaseRun(job.ID, exec.ExecutionID)
	}

	if exec.Status != models.StatusFailed || exec.Attempt >= job.MaxRetries {
		return
	}

	delay := time.Duration(job.RetryDelayMinutes) * time.Minute
	if delay <= 0 {
		delay = 5 * time.Minute
	}
	runAfter := completedAt.Add(delay)

	retry := s.newExecution(job, TriggerRetry, exec.Attempt+1, exec.RetryGroupID, &runAfter)
	retry.StartDate = exec.StartDate
	retry.EndDate = exec.EndDate
	if err := s.execs.Create(retry); err != nil {
		s.logger.Error("Retry create failed",
			zap.Uint("job_id", job.ID), zap.Error(err))
		return
	}
	s.logger.Info("Retry scheduled",
		zap.Uint("job_id", job.ID),
		zap.String("execution_id", retry.ExecutionID),
		zap.Int("attempt", retry.Attempt),
		zap.Time("run_after", runAfter))
}

func (s *Scheduler) recoverFromPanic(what string) {
	if r := recover(); r != nil {
		s.logger.Error("Scheduler panicked", zap.String("in", what), zap.Any("error", r))
	}
}

func summaryErrors(summary *syncer.RunSummary) string {
	if summary == nil {
		return ""
	}
	msg := ""
	for _, ep := range summary.Endpoints {
		if ep.Error != "" {
			if msg != "" {
				msg += "; "
			}
			msg += ep.Endpoint + ": " + ep.Error
		}
	}
	return msg
}

func splitEndpoints(s string) []string {
	job := models.ScheduledJob{Endpoints: s}
	return job.EndpointList()
}

func joinEndpoints(endpoints []string) string {
	return strings.Join(endpoints, ",")
}
