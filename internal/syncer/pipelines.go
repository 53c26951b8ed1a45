package syncer

import (
	"fmt"

	"crashsync/internal/config"
	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/sanitize"
)

// Pipelines wires the four portal datasets to their sanitize and
// upsert stages. Order matters only for display; runs are concurrent.
func Pipelines(cfg *config.Config, san *sanitize.Sanitizer, repo *repository.CrashRepository) []Pipeline {
	return []Pipeline{
		{
			Dataset:   "crashes",
			URL:       cfg.Soda.Endpoints["crashes"],
			DateField: "crash_date",
			Sanitize:  san.Crash,
			Persist: func(batch []sanitize.Record) (repository.UpsertResult, error) {
				crashes, err := collect[*models.Crash](batch)
				if err != nil {
					return repository.UpsertResult{}, err
				}
				return repo.UpsertCrashes(crashes)
			},
		},
		{
			Dataset:   "people",
			URL:       cfg.Soda.Endpoints["people"],
			DateField: "crash_date",
			Sanitize:  san.Person,
			Persist: func(batch []sanitize.Record) (repository.UpsertResult, error) {
				people, err := collect[*models.CrashPerson](batch)
				if err != nil {
					return repository.UpsertResult{}, err
				}
				return repo.UpsertPeople(people)
			},
		},
		{
			Dataset:   "vehicles",
			URL:       cfg.Soda.Endpoints["vehicles"],
			DateField: "crash_date",
			Sanitize:  san.Vehicle,
			Persist: func(batch []sanitize.Record) (repository.UpsertResult, error) {
				vehicles, err := collect[*models.CrashVehicle](batch)
				if err != nil {
					return repository.UpsertResult{}, err
				}
				return repo.UpsertVehicles(vehicles)
			},
		},
		{
			Dataset:   "fatalities",
			URL:       cfg.Soda.Endpoints["fatalities"],
			DateField: "crash_date",
			Sanitize:  san.Fatality,
			Persist: func(batch []sanitize.Record) (repository.UpsertResult, error) {
				fatalities, err := collect[*models.VisionZeroFatality](batch)
				if err != nil {
					return repository.UpsertResult{}, err
				}
				return repo.UpsertFatalities(fatalities)
			},
		},
	}
}

func collect[T sanitize.Record](batch []sanitize.Record) ([]T, error) {
	out := make([]T, 0, len(batch))
	for _, r := range batch {
		typed, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", r)
		}
		out = append(out, typed)
	}
	return out, nil
}
