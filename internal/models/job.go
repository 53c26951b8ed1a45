package models

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Job execution states.
const (
	StatusPending             = "pending"
	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// Recurrence types.
const (
	RecurrenceOnce   = "once"
	RecurrenceDaily  = "daily"
	RecurrenceWeekly = "weekly"
	RecurrenceCron   = "cron"
)

// Batch failure policies for the sync orchestrator.
const (
	BatchFailureAbort    = "abort"
	BatchFailureContinue = "continue"
)

// ScheduledJob maps to the `scheduled_jobs` table.
type ScheduledJob struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"column:name;size:255;index" json:"name"`
	Description string `gorm:"column:description;type:text" json:"description"`

	Enabled bool `gorm:"column:enabled;default:true;index:idx_jobs_next_run_enabled,priority:2" json:"enabled"`

	// Endpoints is a comma-separated set of dataset slugs
	// (crashes, people, vehicles, fatalities).
	Endpoints string `gorm:"column:endpoints;size:255" json:"endpoints"`

	RecurrenceType string `gorm:"column:recurrence_type;size:50" json:"recurrence_type"`
	CronExpression string `gorm:"column:cron_expression;size:100" json:"cron_expression"`

	// Date-window configuration: explicit range, or rolling window in
	// days; both empty means full backfill from the configured start.
	StartDate     string `gorm:"column:start_date;size:20" json:"start_date"`
	EndDate       string `gorm:"column:end_date;size:20" json:"end_date"`
	DateRangeDays int    `gorm:"column:date_range_days;default:0" json:"date_range_days"`
	Incremental   bool   `gorm:"column:incremental;default:false" json:"incremental"`

	TimeoutMinutes    int `gorm:"column:timeout_minutes;default:60" json:"timeout_minutes"`
	MaxRetries        int `gorm:"column:max_retries;default:3" json:"max_retries"`
	RetryDelayMinutes int `gorm:"column:retry_delay_minutes;default:5" json:"retry_delay_minutes"`

	NextRun *time.Time `gorm:"column:next_run;index:idx_jobs_next_run_enabled,priority:1" json:"next_run"`
	LastRun *time.Time `gorm:"column:last_run" json:"last_run"`

	// RunningExecutionID is the single-running-per-job guard. Claimed
	// with a compare-and-set update before dispatch; empty when idle.
	RunningExecutionID string `gorm:"column:running_execution_id;size:64" json:"running_execution_id"`

	CreatedBy string    `gorm:"column:created_by;size:100;default:system" json:"created_by"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}

// EndpointList splits the comma-separated endpoint set.
func (j *ScheduledJob) EndpointList() []string {
	var out []string
	for _, part := range strings.Split(j.Endpoints, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CalculateNextRun derives the next run time from the recurrence
// descriptor. ONCE yields nil after its first completion. DAILY and
// WEEKLY are fixed offsets from the completed run (AddDate keeps the
// wall-clock time across DST transitions). Cron expressions use the
// standard five-field format.
func CalculateNextRun(recurrence, cronExpr string, completedAt time.Time) *time.Time {
	switch recurrence {
	case RecurrenceOnce:
		return nil
	case RecurrenceDaily:
		next := completedAt.AddDate(0, 0, 1)
		return &next
	case RecurrenceWeekly:
		next := completedAt.AddDate(0, 0, 7)
		return &next
	case RecurrenceCron:
		sched, err := cron.ParseStandard(cronExpr)
		if err != nil {
			return nil
		}
		next := sched.Next(completedAt)
		return &next
	}
	return nil
}

// ValidRecurrence reports whether the descriptor is one we schedule.
func ValidRecurrence(recurrence, cronExpr string) bool {
	switch recurrence {
	case RecurrenceOnce, RecurrenceDaily, RecurrenceWeekly:
		return true
	case RecurrenceCron:
		_, err := cron.ParseStandard(cronExpr)
		return err == nil
	}
	return false
}

// JobExecution maps to the `job_executions` table. Terminal rows are
// immutable; a retry is a new row sharing RetryGroupID.
type JobExecution struct {
	ID          uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ExecutionID string `gorm:"column:execution_id;size:64;uniqueIndex" json:"execution_id"`

	// JobID is nil for ad-hoc sync runs triggered outside any job.
	JobID *uint `gorm:"column:job_id;index:idx_executions_job_status,priority:1" json:"job_id"`

	Status  string `gorm:"column:status;size:30;index:idx_executions_job_status,priority:2" json:"status"`
	Trigger string `gorm:"column:trigger_type;size:20" json:"trigger"`

	Attempt      int    `gorm:"column:attempt;default:1" json:"attempt"`
	RetryGroupID string `gorm:"column:retry_group_id;size:64;index" json:"retry_group_id"`

	// RunAfter gates retry executions; the dispatcher skips a pending
	// row until this time passes.
	RunAfter *time.Time `gorm:"column:run_after" json:"run_after"`

	Endpoints string `gorm:"column:endpoints;size:255" json:"endpoints"`
	StartDate string `gorm:"column:start_date;size:20" json:"start_date"`
	EndDate   string `gorm:"column:end_date;size:20" json:"end_date"`
	Forced    bool   `gorm:"column:forced;default:false" json:"forced"`

	StartedAt       *time.Time `gorm:"column:started_at;index" json:"started_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at" json:"completed_at"`
	DurationSeconds int        `gorm:"column:duration_seconds;default:0" json:"duration_seconds"`

	RecordsFetched   int `gorm:"column:records_fetched;default:0" json:"records_fetched"`
	RecordsSanitized int `gorm:"column:records_sanitized;default:0" json:"records_sanitized"`
	RecordsRejected  int `gorm:"column:records_rejected;default:0" json:"records_rejected"`
	RecordsInserted  int `gorm:"column:records_inserted;default:0" json:"records_inserted"`
	RecordsUpdated   int `gorm:"column:records_updated;default:0" json:"records_updated"`

	// EndpointCounts is a JSON map of endpoint slug to counts.
	EndpointCounts string `gorm:"column:endpoint_counts;type:text" json:"endpoint_counts"`

	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message"`

	// Logs is a JSON array of ExecutionLogEntry with monotonically
	// increasing Seq; consumers poll entries after a given offset.
	Logs string `gorm:"column:logs;type:longtext" json:"logs"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (JobExecution) TableName() string {
	return "job_executions"
}

// Terminal reports whether the execution reached an immutable state.
func (e *JobExecution) Terminal() bool {
	switch e.Status {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExecutionLogEntry is one structured log line attached to an execution.
type ExecutionLogEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// EndpointCount is the per-endpoint accounting stored on an execution.
type EndpointCount struct {
	Fetched     int `json:"fetched"`
	SanitizedOK int `json:"sanitized_ok"`
	Rejected    int `json:"rejected"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Batches     int `json:"batches"`
}

// SyncCursor maps to the `sync_cursors` table: the per-endpoint
// watermark of durably ingested source data.
type SyncCursor struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Dataset      string    `gorm:"column:dataset;size:50;uniqueIndex:idx_cursors_dataset_endpoint,priority:1" json:"dataset"`
	Endpoint     string    `gorm:"column:endpoint;size:255;uniqueIndex:idx_cursors_dataset_endpoint,priority:2" json:"endpoint"`
	LastSyncedAt time.Time `gorm:"column:last_synced_at" json:"last_synced_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// DataDeletionLog maps to the `data_deletion_logs` table. Every scoped
// deletion writes one audit row.
type DataDeletionLog struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TargetTable    string    `gorm:"column:table_name;size:100;index" json:"table_name"`
	RecordsDeleted int64     `gorm:"column:records_deleted" json:"records_deleted"`
	Criteria       string    `gorm:"column:criteria;type:text" json:"criteria"`
	ExecutedBy     string    `gorm:"column:executed_by;size:100;default:system" json:"executed_by"`
	DurationMS     int64     `gorm:"column:duration_ms;default:0" json:"duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (DataDeletionLog) TableName() string {
	return "data_deletion_logs"
}
