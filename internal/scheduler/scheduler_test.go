package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crashsync/internal/config"
	"crashsync/internal/models"
	"crashsync/internal/repository"
	"crashsync/internal/syncer"
)

// ── Fakes ──

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uint]*models.ScheduledJob
}

func newFakeJobStore(jobs ...*models.ScheduledJob) *fakeJobStore {
	s := &fakeJobStore{jobs: map[uint]*models.ScheduledJob{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeJobStore) Due(now time.Time) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.ScheduledJob
	for _, j := range s.jobs {
		if j.Enabled && j.NextRun != nil && !j.NextRun.After(now) && j.RunningExecutionID == "" {
			due = append(due, *j)
		}
	}
	return due, nil
}

func (s *fakeJobStore) FindByID(id uint) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) ClaimRun(jobID uint, executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.RunningExecutionID != "" {
		return false, nil
	}
	j.RunningExecutionID = executionID
	return true, nil
}

func (s *fakeJobStore) ReleaseRun(jobID uint, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.RunningExecutionID == executionID {
		j.RunningExecutionID = ""
	}
	return nil
}

func (s *fakeJobStore) CompleteRun(jobID uint, executionID string, completedAt time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.RunningExecutionID != executionID {
		return nil
	}
	j.RunningExecutionID = ""
	t := completedAt
	j.LastRun = &t
	j.NextRun = nextRun
	return nil
}

func (s *fakeJobStore) running(jobID uint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].RunningExecutionID
}

type fakeExecStore struct {
	mu    sync.Mutex
	execs map[string]*models.JobExecution
	logs  map[string][]models.ExecutionLogEntry
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{
		execs: map[string]*models.JobExecution{},
		logs:  map[string][]models.ExecutionLogEntry{},
	}
}

func (s *fakeExecStore) Create(exec *models.JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.execs[exec.ExecutionID] = &cp
	return nil
}

func (s *fakeExecStore) MarkRunning(executionID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[executionID]
	if !ok || e.Status != models.StatusPending {
		return false, nil
	}
	e.Status = models.StatusRunning
	t := startedAt
	e.StartedAt = &t
	return true, nil
}

func (s *fakeExecStore) Finalize(exec *models.JobExecution) error {
	s.mu.Lock()
	e, ok := s.execs[exec.ExecutionID]
	if ok && !e.Terminal() {
		cp := *exec
		s.execs[exec.ExecutionID] = &cp
	}
	s.mu.Unlock()
	return nil
}

func (s *fakeExecStore) Cancel(executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.execs[executionID]
	if !ok || e.Status != models.StatusPending {
		return false, nil
	}
	e.Status = models.StatusCancelled
	return true, nil
}

func (s *fakeExecStore) AppendLogs(executionID string, entries []models.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[executionID] = append(s.logs[executionID], entries...)
	return nil
}

func (s *fakeExecStore) DueRetries(now time.Time) ([]models.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.JobExecution
	for _, e := range s.execs {
		if e.Status == models.StatusPending && e.RunAfter != nil && !e.RunAfter.After(now) {
			due = append(due, *e)
		}
	}
	return due, nil
}

func (s *fakeExecStore) FailStaleRunning(reason string) (int64, error) { return 0, nil }

func (s *fakeExecStore) get(executionID string) *models.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[executionID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (s *fakeExecStore) pendingRetries() []*models.JobExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobExecution
	for _, e := range s.execs {
		if e.Status == models.StatusPending && e.RunAfter != nil {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

type fakeRunner struct {
	fn func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error)
}

func (r *fakeRunner) Run(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
	return r.fn(ctx, spec, logf)
}

func okSummary() *syncer.RunSummary {
	return &syncer.RunSummary{
		Status: models.StatusCompleted,
		Endpoints: map[string]*syncer.EndpointSummary{
			"crashes": {
				Endpoint: "crashes",
				Counts:   models.EndpointCount{Fetched: 10, SanitizedOK: 9, Rejected: 1, Inserted: 5, Updated: 4, Batches: 1},
			},
		},
	}
}

func testJob(id uint) *models.ScheduledJob {
	next := time.Now().Add(-time.Minute)
	return &models.ScheduledJob{
		ID:                id,
		Name:              "nightly",
		Enabled:           true,
		Endpoints:         "crashes",
		RecurrenceType:    models.RecurrenceDaily,
		Incremental:       true,
		TimeoutMinutes:    60,
		MaxRetries:        2,
		RetryDelayMinutes: 5,
		NextRun:           &next,
	}
}

func newTestScheduler(jobs *fakeJobStore, execs *fakeExecStore, runner Runner) *Scheduler {
	cfg := &config.SchedulerConfig{TickSeconds: 60, LeaderTTL: 90 * time.Second}
	return New(cfg, jobs, execs, runner, &memoryLeader{}, zap.NewNop())
}

func waitFinalized(t *testing.T, execs *fakeExecStore, executionID string) *models.JobExecution {
	t.Helper()
	var out *models.JobExecution
	require.Eventually(t, func() bool {
		e := execs.get(executionID)
		if e != nil && e.Terminal() {
			out = e
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "execution %s never finalized", executionID)
	return out
}

// ── Tests ──

func TestTriggerRunsAndCompletesJob(t *testing.T) {
	jobs := newFakeJobStore(testJob(1))
	execs := newFakeExecStore()
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		assert.Equal(t, []string{"crashes"}, spec.Endpoints)
		assert.True(t, spec.Incremental)
		logf("info", "crashes: batch 1 committed")
		return okSummary(), nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	exec, err := s.Trigger(1, false)
	require.NoError(t, err)

	final := waitFinalized(t, execs, exec.ExecutionID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 10, final.RecordsFetched)
	assert.Equal(t, 5, final.RecordsInserted)
	assert.Equal(t, 4, final.RecordsUpdated)
	assert.Equal(t, 1, final.RecordsRejected)
	assert.NotEmpty(t, final.EndpointCounts)

	// slot released and the daily schedule advanced
	assert.Empty(t, jobs.running(1))
	job, _ := jobs.FindByID(1)
	require.NotNil(t, job.NextRun)
	require.NotNil(t, job.LastRun)
	assert.WithinDuration(t, job.LastRun.AddDate(0, 0, 1), *job.NextRun, time.Second)

	// structured log entries made it into the ledger
	execs.mu.Lock()
	logged := len(execs.logs[exec.ExecutionID])
	execs.mu.Unlock()
	assert.GreaterOrEqual(t, logged, 3)
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	jobs := newFakeJobStore(testJob(1))
	execs := newFakeExecStore()
	block := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		<-block
		return okSummary(), nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	first, err := s.Trigger(1, false)
	require.NoError(t, err)

	_, err = s.Trigger(1, false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// force bypasses the check
	forced, err := s.Trigger(1, true)
	require.NoError(t, err)
	assert.True(t, forced.Forced)

	close(block)
	waitFinalized(t, execs, first.ExecutionID)
	waitFinalized(t, execs, forced.ExecutionID)
}

func TestFailedRunSchedulesRetry(t *testing.T) {
	jobs := newFakeJobStore(testJob(1))
	execs := newFakeExecStore()
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		return nil, errors.New("upstream exhausted")
	}}
	s := newTestScheduler(jobs, execs, runner)

	exec, err := s.Trigger(1, false)
	require.NoError(t, err)

	final := waitFinalized(t, execs, exec.ExecutionID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "upstream exhausted")

	retries := execs.pendingRetries()
	require.Len(t, retries, 1)
	retry := retries[0]
	assert.Equal(t, 2, retry.Attempt)
	assert.Equal(t, exec.RetryGroupID, retry.RetryGroupID)
	assert.Equal(t, TriggerRetry, retry.Trigger)
	require.NotNil(t, retry.RunAfter)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *retry.RunAfter, 10*time.Second)
}

func TestRetriesExhaust(t *testing.T) {
	job := testJob(1)
	job.MaxRetries = 1
	jobs := newFakeJobStore(job)
	execs := newFakeExecStore()
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		return nil, errors.New("still broken")
	}}
	s := newTestScheduler(jobs, execs, runner)

	exec, err := s.Trigger(1, false)
	require.NoError(t, err)
	waitFinalized(t, execs, exec.ExecutionID)

	// attempt 1 == max_retries, so no retry row appears
	assert.Empty(t, execs.pendingRetries())
}

func TestDispatchDueClaimsJob(t *testing.T) {
	jobs := newFakeJobStore(testJob(1))
	execs := newFakeExecStore()
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		return okSummary(), nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	s.dispatchDue(time.Now())

	var final *models.JobExecution
	require.Eventually(t, func() bool {
		execs.mu.Lock()
		defer execs.mu.Unlock()
		for _, e := range execs.execs {
			if e.Terminal() {
				cp := *e
				final = &cp
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, TriggerScheduled, final.Trigger)
	assert.Empty(t, jobs.running(1))
}

func TestDispatchRetriesClaimsAndRuns(t *testing.T) {
	job := testJob(1)
	job.NextRun = nil // schedule exhausted; only the retry is due
	jobs := newFakeJobStore(job)
	execs := newFakeExecStore()

	past := time.Now().Add(-time.Minute)
	jobID := uint(1)
	retry := &models.JobExecution{
		ExecutionID:  "retry-1",
		JobID:        &jobID,
		Status:       models.StatusPending,
		Trigger:      TriggerRetry,
		Attempt:      2,
		RetryGroupID: "group-1",
		RunAfter:     &past,
		Endpoints:    "crashes",
	}
	require.NoError(t, execs.Create(retry))

	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		return okSummary(), nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	s.dispatchRetries(time.Now())

	final := waitFinalized(t, execs, "retry-1")
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 2, final.Attempt)
	assert.Empty(t, jobs.running(1))
}

func TestDispatchRetriesCancelsOrphanedRetry(t *testing.T) {
	jobs := newFakeJobStore() // the job was deleted
	execs := newFakeExecStore()

	past := time.Now().Add(-time.Minute)
	jobID := uint(7)
	orphan := &models.JobExecution{
		ExecutionID:  "orphan-1",
		JobID:        &jobID,
		Status:       models.StatusPending,
		Trigger:      TriggerRetry,
		Attempt:      2,
		RetryGroupID: "group-7",
		RunAfter:     &past,
		Endpoints:    "crashes",
	}
	require.NoError(t, execs.Create(orphan))

	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		t.Fatal("orphaned retry must not run")
		return nil, nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	s.dispatchRetries(time.Now())

	final := execs.get("orphan-1")
	require.NotNil(t, final)
	assert.Equal(t, models.StatusCancelled, final.Status)

	// the row is resolved, not rescanned on every subsequent tick
	due, err := execs.DueRetries(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancelStopsExecution(t *testing.T) {
	jobs := newFakeJobStore(testJob(1))
	execs := newFakeExecStore()
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		close(started)
		<-ctx.Done()
		return &syncer.RunSummary{Status: models.StatusFailed, Endpoints: map[string]*syncer.EndpointSummary{}}, nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	exec, err := s.Trigger(1, false)
	require.NoError(t, err)

	<-started
	require.True(t, s.Cancel(exec.ExecutionID))

	final := waitFinalized(t, execs, exec.ExecutionID)
	assert.Equal(t, models.StatusCancelled, final.Status)
	// a cancelled run is not retried
	assert.Empty(t, execs.pendingRetries())
	assert.Empty(t, jobs.running(1))
}

func TestAdhocSyncHasNoJob(t *testing.T) {
	jobs := newFakeJobStore()
	execs := newFakeExecStore()
	runner := &fakeRunner{fn: func(ctx context.Context, spec syncer.RunSpec, logf syncer.LogFunc) (*syncer.RunSummary, error) {
		assert.Equal(t, "2024-01-01", spec.StartDate)
		return okSummary(), nil
	}}
	s := newTestScheduler(jobs, execs, runner)

	exec, err := s.TriggerSync(&models.SyncRequest{
		Endpoints: []string{"crashes"},
		StartDate: "2024-01-01",
	})
	require.NoError(t, err)
	assert.Nil(t, exec.JobID)

	final := waitFinalized(t, execs, exec.ExecutionID)
	assert.Equal(t, models.StatusCompleted, final.Status)
}
