package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"crashsync/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobRepository handles scheduled job storage and the single-running
// claim protocol.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *models.ScheduledJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) Save(job *models.ScheduledJob) error {
	return r.db.Save(job).Error
}

// Delete removes the job together with its execution history.
func (r *JobRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.ScheduledJob{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return tx.Where("job_id = ?", id).Delete(&models.JobExecution{}).Error
	})
}

func (r *JobRepository) FindByID(id uint) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := r.db.First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) FindByName(name string) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := r.db.Where("name = ?", name).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) FindAll() ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.Order("id").Find(&jobs).Error
	return jobs, err
}

// Due returns enabled jobs whose next_run has passed and that have no
// running execution.
func (r *JobRepository) Due(now time.Time) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	err := r.db.
		Where("enabled = ? AND next_run IS NOT NULL AND next_run <= ? AND running_execution_id = ''", true, now).
		Order("next_run").
		Find(&jobs).Error
	return jobs, err
}

// ClaimRun atomically marks the job as running executionID. Returns
// false when another execution already holds the slot; the caller must
// not dispatch in that case.
func (r *JobRepository) ClaimRun(jobID uint, executionID string) (bool, error) {
	res := r.db.Model(&models.ScheduledJob{}).
		Where("id = ? AND running_execution_id = ''", jobID).
		Update("running_execution_id", executionID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseRun clears the running slot, but only for the execution that
// holds it.
func (r *JobRepository) ReleaseRun(jobID uint, executionID string) error {
	return r.db.Model(&models.ScheduledJob{}).
		Where("id = ? AND running_execution_id = ?", jobID, executionID).
		Update("running_execution_id", "").Error
}

// CompleteRun records the finished run and schedules the next one.
// nextRun nil disables further dispatch (ONCE recurrence).
func (r *JobRepository) CompleteRun(jobID uint, executionID string, completedAt time.Time, nextRun *time.Time) error {
	return r.db.Model(&models.ScheduledJob{}).
		Where("id = ? AND running_execution_id = ?", jobID, executionID).
		Updates(map[string]interface{}{
			"running_execution_id": "",
			"last_run":             completedAt,
			"next_run":             nextRun,
		}).Error
}
