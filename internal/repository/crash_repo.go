package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crashsync/internal/models"
)

// upsertBatchSize bounds a single INSERT statement; MySQL handles this
// comfortably and it keeps packet sizes sane.
const upsertBatchSize = 500

// UpsertResult splits an idempotent bulk write into rows that were new
// and rows that replaced an existing natural key.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

func (r UpsertResult) Add(other UpsertResult) UpsertResult {
	return UpsertResult{
		Inserted: r.Inserted + other.Inserted,
		Updated:  r.Updated + other.Updated,
	}
}

// CrashRepository handles persistence for all four crash datasets.
type CrashRepository struct {
	db *gorm.DB
}

func NewCrashRepository(db *gorm.DB) *CrashRepository {
	return &CrashRepository{db: db}
}

// UpsertCrashes writes crashes keyed by crash_record_id. Re-running
// the same batch is a no-op apart from refreshed column values.
func (r *CrashRepository) UpsertCrashes(crashes []*models.Crash) (UpsertResult, error) {
	if len(crashes) == 0 {
		return UpsertResult{}, nil
	}

	ids := make([]string, 0, len(crashes))
	for _, c := range crashes {
		ids = append(ids, c.CrashRecordID)
	}
	var existing []string
	if err := r.db.Model(&models.Crash{}).
		Where("crash_record_id IN ?", ids).
		Pluck("crash_record_id", &existing).Error; err != nil {
		return UpsertResult{}, err
	}

	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(crashes, upsertBatchSize).Error
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Inserted: len(crashes) - len(existing), Updated: len(existing)}, nil
}

// UpsertPeople writes person rows keyed by (crash_record_id, person_id).
func (r *CrashRepository) UpsertPeople(people []*models.CrashPerson) (UpsertResult, error) {
	if len(people) == 0 {
		return UpsertResult{}, nil
	}

	crashIDs := make([]string, 0, len(people))
	for _, p := range people {
		crashIDs = append(crashIDs, p.CrashRecordID)
	}
	var rows []models.CrashPerson
	if err := r.db.Select("crash_record_id", "person_id").
		Where("crash_record_id IN ?", crashIDs).
		Find(&rows).Error; err != nil {
		return UpsertResult{}, err
	}
	existing := make(map[string]bool, len(rows))
	for i := range rows {
		existing[rows[i].NaturalKey()] = true
	}
	updated := 0
	for _, p := range people {
		if existing[p.NaturalKey()] {
			updated++
		}
	}

	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(people, upsertBatchSize).Error
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Inserted: len(people) - updated, Updated: updated}, nil
}

// UpsertVehicles writes unit rows keyed by (crash_record_id, unit_no).
func (r *CrashRepository) UpsertVehicles(vehicles []*models.CrashVehicle) (UpsertResult, error) {
	if len(vehicles) == 0 {
		return UpsertResult{}, nil
	}

	crashIDs := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		crashIDs = append(crashIDs, v.CrashRecordID)
	}
	var rows []models.CrashVehicle
	if err := r.db.Select("crash_record_id", "unit_no").
		Where("crash_record_id IN ?", crashIDs).
		Find(&rows).Error; err != nil {
		return UpsertResult{}, err
	}
	existing := make(map[string]bool, len(rows))
	for i := range rows {
		existing[rows[i].NaturalKey()] = true
	}
	updated := 0
	for _, v := range vehicles {
		if existing[v.NaturalKey()] {
			updated++
		}
	}

	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(vehicles, upsertBatchSize).Error
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Inserted: len(vehicles) - updated, Updated: updated}, nil
}

// UpsertFatalities writes Vision Zero rows keyed by person_id.
func (r *CrashRepository) UpsertFatalities(fatalities []*models.VisionZeroFatality) (UpsertResult, error) {
	if len(fatalities) == 0 {
		return UpsertResult{}, nil
	}

	ids := make([]string, 0, len(fatalities))
	for _, f := range fatalities {
		ids = append(ids, f.PersonID)
	}
	var existing []string
	if err := r.db.Model(&models.VisionZeroFatality{}).
		Where("person_id IN ?", ids).
		Pluck("person_id", &existing).Error; err != nil {
		return UpsertResult{}, err
	}

	err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(fatalities, upsertBatchSize).Error
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Inserted: len(fatalities) - len(existing), Updated: len(existing)}, nil
}

// deletableTables maps an exposed table name to its model. Acting as
// an allow-list keeps arbitrary table names out of the DELETE.
var deletableTables = map[string]interface{}{
	"crashes":                &models.Crash{},
	"crash_people":           &models.CrashPerson{},
	"crash_vehicles":         &models.CrashVehicle{},
	"vision_zero_fatalities": &models.VisionZeroFatality{},
}

// ValidDeletionTable reports whether table is one deletion may target.
func ValidDeletionTable(table string) bool {
	_, ok := deletableTables[table]
	return ok
}

// DeleteData removes rows from one dataset table, optionally bounded
// by crash_date, and writes an audit row in the same transaction.
func (r *CrashRepository) DeleteData(table, startDate, endDate, executedBy string) (int64, error) {
	model, ok := deletableTables[table]
	if !ok {
		return 0, fmt.Errorf("table %q is not deletable", table)
	}

	started := time.Now()
	var deleted int64

	err := r.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(model)
		if startDate != "" {
			q = q.Where("crash_date >= ?", startDate)
		}
		if endDate != "" {
			q = q.Where("crash_date <= ?", endDate)
		}

		res := q.Delete(model)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected

		criteria, _ := json.Marshal(map[string]string{
			"start_date": startDate,
			"end_date":   endDate,
		})
		audit := &models.DataDeletionLog{
			TargetTable:    table,
			RecordsDeleted: deleted,
			Criteria:       string(criteria),
			ExecutedBy:     executedBy,
			DurationMS:     time.Since(started).Milliseconds(),
		}
		return tx.Create(audit).Error
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeletionLogs returns the most recent deletion audit rows.
func (r *CrashRepository) DeletionLogs(limit int) ([]models.DataDeletionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.DataDeletionLog
	err := r.db.Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
