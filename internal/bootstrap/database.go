package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crashsync/internal/models"
)

// MigrateAndSeed ensures required tables exist and inserts the default
// job templates on first boot.
func MigrateAndSeed(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaultJobs(db); err != nil {
		return fmt.Errorf("seed default jobs failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		// Datasets
		&models.Crash{},
		&models.CrashPerson{},
		&models.CrashVehicle{},
		&models.VisionZeroFatality{},
		// Orchestration
		&models.ScheduledJob{},
		&models.JobExecution{},
		&models.SyncCursor{},
		&models.DataDeletionLog{},
	}
}

// seedDefaultJobs inserts the baseline schedule. Existing jobs are
// never touched, so operator edits survive restarts.
func seedDefaultJobs(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, job := range defaultJobs(time.Now()) {
			var existing models.ScheduledJob
			err := tx.Where("name = ?", job.Name).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&job).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func defaultJobs(now time.Time) []models.ScheduledJob {
	tomorrow := now.AddDate(0, 0, 1)
	nextWeek := now.AddDate(0, 0, 7)
	return []models.ScheduledJob{
		{
			Name:              "Full Data Refresh",
			Description:       "Complete refresh of all data from the Chicago Open Data Portal",
			Enabled:           false,
			Endpoints:         "crashes,people,vehicles,fatalities",
			RecurrenceType:    models.RecurrenceOnce,
			TimeoutMinutes:    300,
			MaxRetries:        1,
			RetryDelayMinutes: 5,
			CreatedBy:         "system",
		},
		{
			Name:              "Last 30 Days - Crash Data",
			Description:       "Refresh crash data from the last 30 days",
			Enabled:           true,
			Endpoints:         "crashes",
			RecurrenceType:    models.RecurrenceDaily,
			DateRangeDays:     30,
			TimeoutMinutes:    60,
			MaxRetries:        3,
			RetryDelayMinutes: 5,
			NextRun:           &tomorrow,
			CreatedBy:         "system",
		},
		{
			Name:              "Last 30 Days - People Data",
			Description:       "Refresh people data from the last 30 days",
			Enabled:           true,
			Endpoints:         "people",
			RecurrenceType:    models.RecurrenceDaily,
			DateRangeDays:     30,
			TimeoutMinutes:    60,
			MaxRetries:        3,
			RetryDelayMinutes: 5,
			NextRun:           &tomorrow,
			CreatedBy:         "system",
		},
		{
			Name:              "Last 30 Days - Vehicle Data",
			Description:       "Refresh vehicle data from the last 30 days",
			Enabled:           true,
			Endpoints:         "vehicles",
			RecurrenceType:    models.RecurrenceDaily,
			DateRangeDays:     30,
			TimeoutMinutes:    60,
			MaxRetries:        3,
			RetryDelayMinutes: 5,
			NextRun:           &tomorrow,
			CreatedBy:         "system",
		},
		{
			Name:              "Last 6 Months - Vision Zero Fatalities",
			Description:       "Refresh Vision Zero fatality data from the last 6 months",
			Enabled:           true,
			Endpoints:         "fatalities",
			RecurrenceType:    models.RecurrenceWeekly,
			DateRangeDays:     180,
			TimeoutMinutes:    30,
			MaxRetries:        3,
			RetryDelayMinutes: 5,
			NextRun:           &nextWeek,
			CreatedBy:         "system",
		},
	}
}
