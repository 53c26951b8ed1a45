package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crashsync/internal/config"
	"crashsync/internal/models"
	"crashsync/internal/sanitize"
	"crashsync/internal/soda"
)

// maxPageSize caps a single SODA page regardless of batch size.
const maxPageSize = 50000

// Syncer pages each endpoint through fetch, sanitize, and upsert,
// advancing the watermark after every durably committed batch.
// Endpoint runs are isolated: one endpoint failing never aborts its
// siblings. The semaphore bounds in-flight endpoint tasks across all
// concurrent runs.
type Syncer struct {
	client    PageFetcher
	cursors   CursorStore
	pipelines map[string]Pipeline
	order     []string
	cfg       config.SyncConfig
	sem       chan struct{}
	logger    *zap.Logger
}

func NewSyncer(client PageFetcher, cursors CursorStore, pipelines []Pipeline, cfg config.SyncConfig, logger *zap.Logger) *Syncer {
	byName := make(map[string]Pipeline, len(pipelines))
	order := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		byName[p.Dataset] = p
		order = append(order, p.Dataset)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Syncer{
		client:    client,
		cursors:   cursors,
		pipelines: byName,
		order:     order,
		cfg:       cfg,
		sem:       make(chan struct{}, maxConcurrent),
		logger:    logger,
	}
}

// Datasets returns the configured dataset slugs in pipeline order.
func (s *Syncer) Datasets() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Run executes one sync across the requested endpoints and returns the
// aggregated summary. It returns an error only when the run spec names
// an unknown endpoint; endpoint failures are reported in the summary.
func (s *Syncer) Run(ctx context.Context, spec RunSpec, logf LogFunc) (*RunSummary, error) {
	if logf == nil {
		logf = func(string, string) {}
	}

	targets := spec.Endpoints
	if len(targets) == 0 {
		targets = s.order
	}
	pipelines := make([]Pipeline, 0, len(targets))
	for _, name := range targets {
		p, ok := s.pipelines[name]
		if !ok {
			return nil, fmt.Errorf("unknown endpoint %q", name)
		}
		pipelines = append(pipelines, p)
	}

	summary := &RunSummary{
		StartedAt: time.Now(),
		Endpoints: make(map[string]*EndpointSummary, len(pipelines)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range pipelines {
		wg.Add(1)
		go func(p Pipeline) {
			defer wg.Done()
			ep := s.runEndpoint(ctx, p, spec, logf)
			mu.Lock()
			summary.Endpoints[p.Dataset] = ep
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	summary.Duration = time.Since(summary.StartedAt)
	summary.Status = rollUp(summary)
	return summary, nil
}

func rollUp(summary *RunSummary) string {
	failed, partial := 0, 0
	for _, ep := range summary.Endpoints {
		if ep.Error != "" {
			failed++
		} else if ep.Partial {
			partial++
		}
	}
	switch {
	case failed == len(summary.Endpoints) && failed > 0:
		return models.StatusFailed
	case failed > 0 || partial > 0:
		return models.StatusCompletedWithErrors
	default:
		return models.StatusCompleted
	}
}

func (s *Syncer) runEndpoint(ctx context.Context, p Pipeline, spec RunSpec, logf LogFunc) *EndpointSummary {
	ep := &EndpointSummary{Endpoint: p.Dataset}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		ep.Error = ctx.Err().Error()
		return ep
	}

	where, err := s.resolveWindow(p, spec)
	if err != nil {
		ep.Error = err.Error()
		return ep
	}

	if total, err := s.client.Count(ctx, p.URL, where); err == nil {
		logf("info", fmt.Sprintf("%s: %d records in window", p.Dataset, total))
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = maxPageSize
	}
	pageSize := batchSize
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var batch []sanitize.Record
	var batchMax time.Time

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		records, dropped := sanitize.Dedupe(batch)
		if dropped > 0 {
			logf("warn", fmt.Sprintf("%s: dropped %d in-batch duplicates", p.Dataset, dropped))
		}
		result, err := p.Persist(records)
		if err != nil {
			return err
		}
		ep.Counts.Inserted += result.Inserted
		ep.Counts.Updated += result.Updated
		ep.Counts.Batches++
		if !batchMax.IsZero() {
			if err := s.cursors.Advance(p.Dataset, p.URL, batchMax); err != nil {
				logf("warn", fmt.Sprintf("%s: watermark advance failed: %v", p.Dataset, err))
			} else {
				t := batchMax
				ep.Watermark = &t
			}
		}
		logf("info", fmt.Sprintf("%s: batch %d committed (%d inserted, %d updated)",
			p.Dataset, ep.Counts.Batches, result.Inserted, result.Updated))
		batch = batch[:0]
		batchMax = time.Time{}
		return nil
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			ep.Error = err.Error()
			return ep
		}

		page, err := s.client.FetchPage(ctx, soda.PageRequest{
			Endpoint: p.URL,
			Limit:    pageSize,
			Offset:   offset,
			Where:    where,
			Order:    p.DateField,
		})
		if err != nil {
			ep.Error = fmt.Sprintf("fetch at offset %d: %v", offset, err)
			s.logger.Warn("endpoint fetch failed",
				zap.String("dataset", p.Dataset),
				zap.Int("offset", offset),
				zap.Error(err))
			return ep
		}

		ep.Counts.Fetched += len(page.Records)
		for _, raw := range page.Records {
			out := p.Sanitize(raw)
			if out.Rejected() {
				ep.Counts.Rejected++
				logf("warn", fmt.Sprintf("%s: record rejected: %s", p.Dataset, out.RejectReason))
				continue
			}
			ep.Counts.SanitizedOK++
			for _, w := range out.Warnings {
				logf("warn", fmt.Sprintf("%s: %s: %s", p.Dataset, out.Record.NaturalKey(), w))
			}
			batch = append(batch, out.Record)
			if et := out.Record.EventTime(); et.After(batchMax) {
				batchMax = et
			}
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				if !s.continueOnBatchFailure(p, err, logf) {
					ep.Error = fmt.Sprintf("batch persist: %v", err)
					return ep
				}
				ep.Partial = true
				batch = batch[:0]
				batchMax = time.Time{}
			}
		}

		if page.Done {
			break
		}
		offset = page.NextOffset
	}

	if err := flush(); err != nil {
		if !s.continueOnBatchFailure(p, err, logf) {
			ep.Error = fmt.Sprintf("batch persist: %v", err)
			return ep
		}
		ep.Partial = true
	}

	logf("info", fmt.Sprintf("%s: done (%d fetched, %d rejected, %d inserted, %d updated)",
		p.Dataset, ep.Counts.Fetched, ep.Counts.Rejected, ep.Counts.Inserted, ep.Counts.Updated))
	return ep
}

// continueOnBatchFailure applies the configured batch failure policy.
// Under "continue" the failed batch is skipped and the run is flagged
// partial; under "abort" (the default) the endpoint run stops.
func (s *Syncer) continueOnBatchFailure(p Pipeline, err error, logf LogFunc) bool {
	if s.cfg.BatchFailurePolicy != models.BatchFailureContinue {
		return false
	}
	logf("error", fmt.Sprintf("%s: batch persist failed, skipping: %v", p.Dataset, err))
	s.logger.Error("batch persist failed, continuing",
		zap.String("dataset", p.Dataset),
		zap.Error(err))
	return true
}

// resolveWindow picks the fetch window: explicit dates win, then the
// stored watermark for incremental runs, then the default backfill
// start.
func (s *Syncer) resolveWindow(p Pipeline, spec RunSpec) (string, error) {
	if spec.StartDate != "" || spec.EndDate != "" {
		return soda.DateWhere(p.DateField, spec.StartDate, spec.EndDate), nil
	}
	if spec.Incremental {
		watermark, err := s.cursors.Get(p.Dataset, p.URL)
		if err != nil {
			return "", fmt.Errorf("load watermark: %w", err)
		}
		if watermark != nil {
			return soda.SinceWhere(p.DateField, *watermark), nil
		}
	}
	return soda.DateWhere(p.DateField, s.cfg.DefaultStartDate, ""), nil
}
