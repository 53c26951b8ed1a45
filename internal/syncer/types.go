package syncer

import (
	"context"
	"time"

	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/sanitize"
	"crashsync/internal/soda"
)

// PageFetcher is the slice of the fetch client the orchestrator needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, req soda.PageRequest) (*soda.Page, error)
	Count(ctx context.Context, endpoint, where string) (int, error)
}

// CursorStore persists per-endpoint watermarks.
type CursorStore interface {
	Get(dataset, endpoint string) (*time.Time, error)
	Advance(dataset, endpoint string, t time.Time) error
}

// Pipeline binds one dataset to its fetch URL, sanitize stage, and
// persistence stage.
type Pipeline struct {
	Dataset string
	URL     string

	// DateField is the source column used for window filtering,
	// ordering, and watermark computation.
	DateField string

	Sanitize func(raw map[string]interface{}) sanitize.Outcome
	Persist  func(batch []sanitize.Record) (repository.UpsertResult, error)
}

// LogFunc receives structured progress lines during a run, typically
// appended to the execution ledger. May be nil.
type LogFunc func(level, message string)

// RunSpec describes one sync run.
type RunSpec struct {
	// Endpoints holds dataset slugs; empty means every configured
	// pipeline.
	Endpoints []string

	// StartDate/EndDate (YYYY-MM-DD) pin an explicit window and take
	// precedence over the watermark.
	StartDate string
	EndDate   string

	// Incremental resumes from the stored watermark when no explicit
	// window is given; otherwise the run backfills from the configured
	// default start.
	Incremental bool
}

// EndpointSummary is the per-endpoint outcome of a run.
type EndpointSummary struct {
	Endpoint  string               `json:"endpoint"`
	Counts    models.EndpointCount `json:"counts"`
	Watermark *time.Time           `json:"watermark,omitempty"`
	Error     string               `json:"error,omitempty"`
	Partial   bool                 `json:"partial,omitempty"`
}

// RunSummary aggregates all endpoints of one run.
type RunSummary struct {
	Status    string                      `json:"status"`
	StartedAt time.Time                   `json:"started_at"`
	Duration  time.Duration               `json:"duration"`
	Endpoints map[string]*EndpointSummary `json:"endpoints"`
}

// Totals sums the per-endpoint counters.
func (s *RunSummary) Totals() models.EndpointCount {
	var total models.EndpointCount
	for _, ep := range s.Endpoints {
		total.Fetched += ep.Counts.Fetched
		total.SanitizedOK += ep.Counts.SanitizedOK
		total.Rejected += ep.Counts.Rejected
		total.Inserted += ep.Counts.Inserted
		total.Updated += ep.Counts.Updated
		total.Batches += ep.Counts.Batches
	}
	return total
}
