package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crashsync/internal/models"
)

// maxLogEntries bounds one execution's stored log. Past the cap new
// entries are dropped; a single marker entry records the truncation.
const maxLogEntries = 1000

var ErrExecutionNotFound = errors.New("execution not found")

// ExecutionRepository is the append-only ledger of sync executions.
// Terminal rows never change; retries are fresh rows in the same group.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(exec *models.JobExecution) error {
	return r.db.Create(exec).Error
}

func (r *ExecutionRepository) FindByExecutionID(executionID string) (*models.JobExecution, error) {
	var exec models.JobExecution
	err := r.db.Where("execution_id = ?", executionID).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// List returns executions most recent first, optionally filtered by
// job and status.
func (r *ExecutionRepository) List(jobID *uint, status string, limit int) ([]models.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	db := r.db.Model(&models.JobExecution{})
	if jobID != nil {
		db = db.Where("job_id = ?", *jobID)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var execs []models.JobExecution
	err := db.Order("id DESC").Limit(limit).Find(&execs).Error
	return execs, err
}

// MarkRunning transitions pending to running. Returns false when the
// row was already past pending (cancelled, or picked up elsewhere).
func (r *ExecutionRepository) MarkRunning(executionID string, startedAt time.Time) (bool, error) {
	res := r.db.Model(&models.JobExecution{}).
		Where("execution_id = ? AND status = ?", executionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusRunning,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Finalize writes the terminal state and summary counters. The guard
// on the current status keeps terminal rows immutable. The logs column
// is owned by AppendLogs and left untouched here.
func (r *ExecutionRepository) Finalize(exec *models.JobExecution) error {
	res := r.db.Model(&models.JobExecution{}).
		Where("execution_id = ? AND status IN ?", exec.ExecutionID,
			[]string{models.StatusPending, models.StatusRunning}).
		Updates(map[string]interface{}{
			"status":            exec.Status,
			"completed_at":      exec.CompletedAt,
			"duration_seconds":  exec.DurationSeconds,
			"records_fetched":   exec.RecordsFetched,
			"records_sanitized": exec.RecordsSanitized,
			"records_rejected":  exec.RecordsRejected,
			"records_inserted":  exec.RecordsInserted,
			"records_updated":   exec.RecordsUpdated,
			"endpoint_counts":   exec.EndpointCounts,
			"error_message":     exec.ErrorMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("execution already terminal")
	}
	return nil
}

// Cancel marks a pending execution cancelled. Running executions are
// cancelled through their context, not here.
func (r *ExecutionRepository) Cancel(executionID string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.JobExecution{}).
		Where("execution_id = ? AND status = ?", executionID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":       models.StatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendLogs assigns sequence numbers continuing from the stored tail
// and persists the combined array, up to maxLogEntries. The row is
// locked for the read so concurrent flushes from endpoint goroutines
// serialize instead of overwriting each other.
func (r *ExecutionRepository) AppendLogs(executionID string, entries []models.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var exec models.JobExecution
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("execution_id = ?", executionID).First(&exec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrExecutionNotFound
		}
		if err != nil {
			return err
		}

		logs := decodeLogs(exec.Logs)
		combined := appendCapped(logs, entries)
		if len(combined) == len(logs) {
			return nil
		}
		raw, err := json.Marshal(combined)
		if err != nil {
			return err
		}
		return tx.Model(&exec).Update("logs", string(raw)).Error
	})
}

// appendCapped merges entries into logs with continuing sequence
// numbers. When the cap is reached the remainder is dropped and one
// truncation marker closes the log; a log already at the cap is
// returned unchanged.
func appendCapped(logs, entries []models.ExecutionLogEntry) []models.ExecutionLogEntry {
	if len(logs) >= maxLogEntries {
		return logs
	}
	next := 1
	if n := len(logs); n > 0 {
		next = logs[n-1].Seq + 1
	}
	for i := range entries {
		if len(logs) == maxLogEntries-1 {
			return append(logs, models.ExecutionLogEntry{
				Seq:       next,
				Timestamp: time.Now(),
				Level:     "warn",
				Message:   fmt.Sprintf("log truncated at %d entries", maxLogEntries),
			})
		}
		entries[i].Seq = next
		next++
		logs = append(logs, entries[i])
	}
	return logs
}

// LogsAfter returns entries with Seq greater than afterSeq, so callers
// can poll incrementally.
func (r *ExecutionRepository) LogsAfter(executionID string, afterSeq int) ([]models.ExecutionLogEntry, error) {
	exec, err := r.FindByExecutionID(executionID)
	if err != nil {
		return nil, err
	}
	logs := decodeLogs(exec.Logs)
	out := make([]models.ExecutionLogEntry, 0, len(logs))
	for _, entry := range logs {
		if entry.Seq > afterSeq {
			out = append(out, entry)
		}
	}
	return out, nil
}

// DueRetries returns pending retry rows whose run_after has passed.
func (r *ExecutionRepository) DueRetries(now time.Time) ([]models.JobExecution, error) {
	var execs []models.JobExecution
	err := r.db.
		Where("status = ? AND run_after IS NOT NULL AND run_after <= ?", models.StatusPending, now).
		Order("run_after").
		Find(&execs).Error
	return execs, err
}

// FailStaleRunning closes out running rows left behind by a previous
// process, so a restart never strands executions in a live state.
func (r *ExecutionRepository) FailStaleRunning(reason string) (int64, error) {
	now := time.Now()
	res := r.db.Model(&models.JobExecution{}).
		Where("status = ?", models.StatusRunning).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"completed_at":  now,
			"error_message": reason,
		})
	return res.RowsAffected, res.Error
}

// JobSummary aggregates the execution history of one job.
type JobSummary struct {
	JobID         uint                 `json:"job_id"`
	Total         int64                `json:"total"`
	ByStatus      map[string]int64     `json:"by_status"`
	LastExecution *models.JobExecution `json:"last_execution"`
}

func (r *ExecutionRepository) Summarize(jobID uint) (*JobSummary, error) {
	summary := &JobSummary{JobID: jobID, ByStatus: map[string]int64{}}

	type statusCount struct {
		Status string
		N      int64
	}
	var counts []statusCount
	err := r.db.Model(&models.JobExecution{}).
		Select("status, COUNT(*) AS n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		summary.ByStatus[c.Status] = c.N
		summary.Total += c.N
	}

	var last models.JobExecution
	err = r.db.Where("job_id = ?", jobID).Order("id DESC").First(&last).Error
	if err == nil {
		summary.LastExecution = &last
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return summary, nil
}

func decodeLogs(raw string) []models.ExecutionLogEntry {
	if raw == "" {
		return nil
	}
	var logs []models.ExecutionLogEntry
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return nil
	}
	return logs
}
