package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"crashsync/internal/models"
)

// CursorRepository stores per-endpoint sync watermarks.
type CursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns the watermark for a dataset/endpoint pair, or nil when
// no sync has completed yet.
func (r *CursorRepository) Get(dataset, endpoint string) (*time.Time, error) {
	var cursor models.SyncCursor
	err := r.db.Where("dataset = ? AND endpoint = ?", dataset, endpoint).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := cursor.LastSyncedAt
	return &t, nil
}

// Advance moves the watermark forward. Older timestamps are ignored so
// the cursor is monotonic regardless of replay or overlapping runs.
func (r *CursorRepository) Advance(dataset, endpoint string, t time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var cursor models.SyncCursor
		err := tx.Where("dataset = ? AND endpoint = ?", dataset, endpoint).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.SyncCursor{
				Dataset:      dataset,
				Endpoint:     endpoint,
				LastSyncedAt: t,
			}).Error
		}
		if err != nil {
			return err
		}
		if !t.After(cursor.LastSyncedAt) {
			return nil
		}
		return tx.Model(&cursor).Update("last_synced_at", t).Error
	})
}

// All returns every stored cursor, for the status surface.
func (r *CursorRepository) All() ([]models.SyncCursor, error) {
	var cursors []models.SyncCursor
	err := r.db.Order("dataset").Find(&cursors).Error
	return cursors, err
}
